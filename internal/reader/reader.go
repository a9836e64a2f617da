// Package reader exposes the read side of the voting program as cached,
// invalidatable queries.
package reader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/gagliardetto/solana-go"

	"voting-client/internal/cache"
	"voting-client/internal/ledger"
	"voting-client/internal/outcome"
	"voting-client/internal/program"
)

// Query shapes; part of every cache key.
const (
	ShapePolls      = "polls"
	ShapeCandidates = "candidates"
	ShapePoll       = "poll"
	ShapeCandidate  = "candidate"
	ShapeProgram    = "program"
)

// Result is the typed view of a cached query.
type Result[T any] struct {
	State     cache.State
	Data      T
	Err       error
	Stale     bool
	Fetching  bool
	UpdatedAt time.Time
}

// Loading reports whether no data has arrived yet.
func (r Result[T]) Loading() bool {
	return r.State == cache.Pending
}

// Decode converts a snapshot into a typed result. A snapshot without data of
// type T yields the zero value.
func Decode[T any](snap cache.Snapshot) Result[T] {
	res := Result[T]{
		State:     snap.State,
		Err:       snap.Err,
		Stale:     snap.Stale,
		Fetching:  snap.Fetching,
		UpdatedAt: snap.UpdatedAt,
	}
	if v, ok := snap.Value.(T); ok {
		res.Data = v
	}
	return res
}

// Reader reads voting accounts of one program on one cluster.
type Reader struct {
	cluster string
	program solana.PublicKey
	ledger  ledger.Ledger
	store   *cache.Store
	log     log.Logger
}

// New returns a reader whose queries live in store under cluster.
func New(store *cache.Store, cluster string, programID solana.PublicKey, l ledger.Ledger, logger log.Logger) *Reader {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reader{
		cluster: cluster,
		program: programID,
		ledger:  l,
		store:   store,
		log:     logger.With("module", "reader", "cluster", cluster),
	}
}

func (r *Reader) Cluster() string            { return r.cluster }
func (r *Reader) Program() solana.PublicKey { return r.program }

// Peek returns the cached snapshot of key without reading.
func (r *Reader) Peek(key cache.Key) (cache.Snapshot, bool) {
	return r.store.Peek(key)
}

func (r *Reader) PollsKey() cache.Key {
	return cache.Key{Cluster: r.cluster, Shape: ShapePolls, Params: r.program.String()}
}

func (r *Reader) CandidatesKey() cache.Key {
	return cache.Key{Cluster: r.cluster, Shape: ShapeCandidates, Params: r.program.String()}
}

// PollKey keys a poll detail by its full derived address.
func (r *Reader) PollKey(addr solana.PublicKey) cache.Key {
	return cache.Key{Cluster: r.cluster, Shape: ShapePoll, Params: addr.String()}
}

func (r *Reader) CandidateKey(addr solana.PublicKey) cache.Key {
	return cache.Key{Cluster: r.cluster, Shape: ShapeCandidate, Params: addr.String()}
}

func (r *Reader) ProgramKey() cache.Key {
	return cache.Key{Cluster: r.cluster, Shape: ShapeProgram, Params: r.program.String()}
}

func (r *Reader) readErr(key cache.Key, err error) error {
	return fmt.Errorf("%w: %s: %w", outcome.ErrReadFailure, key, err)
}

// ListPolls returns every poll account of the program.
func (r *Reader) ListPolls(ctx context.Context) (Result[[]program.Poll], error) {
	snap, err := r.store.Fetch(ctx, r.PollsKey(), r.fetchPolls)
	return Decode[[]program.Poll](snap), err
}

// RefetchPolls forces a read of the poll collection.
func (r *Reader) RefetchPolls(ctx context.Context) (Result[[]program.Poll], error) {
	snap, err := r.store.Refetch(ctx, r.PollsKey(), r.fetchPolls)
	return Decode[[]program.Poll](snap), err
}

// ListCandidates returns every candidate account of the program, across polls.
func (r *Reader) ListCandidates(ctx context.Context) (Result[[]program.Candidate], error) {
	snap, err := r.store.Fetch(ctx, r.CandidatesKey(), r.fetchCandidates)
	return Decode[[]program.Candidate](snap), err
}

// RefetchCandidates forces a read of the candidate collection.
func (r *Reader) RefetchCandidates(ctx context.Context) (Result[[]program.Candidate], error) {
	snap, err := r.store.Refetch(ctx, r.CandidatesKey(), r.fetchCandidates)
	return Decode[[]program.Candidate](snap), err
}

// GetPoll returns the poll stored at addr.
func (r *Reader) GetPoll(ctx context.Context, addr solana.PublicKey) (Result[program.Poll], error) {
	snap, err := r.store.Fetch(ctx, r.PollKey(addr), r.pollFetcher(addr))
	return Decode[program.Poll](snap), err
}

// RefetchPoll forces a read of the poll stored at addr.
func (r *Reader) RefetchPoll(ctx context.Context, addr solana.PublicKey) (Result[program.Poll], error) {
	snap, err := r.store.Refetch(ctx, r.PollKey(addr), r.pollFetcher(addr))
	return Decode[program.Poll](snap), err
}

// GetCandidate returns the candidate stored at addr.
func (r *Reader) GetCandidate(ctx context.Context, addr solana.PublicKey) (Result[program.Candidate], error) {
	snap, err := r.store.Fetch(ctx, r.CandidateKey(addr), r.candidateFetcher(addr))
	return Decode[program.Candidate](snap), err
}

// RefetchCandidate forces a read of the candidate stored at addr.
func (r *Reader) RefetchCandidate(ctx context.Context, addr solana.PublicKey) (Result[program.Candidate], error) {
	snap, err := r.store.Refetch(ctx, r.CandidateKey(addr), r.candidateFetcher(addr))
	return Decode[program.Candidate](snap), err
}

// ProgramDeployed reports whether an executable account exists at the program
// id, telling "not deployed on this cluster" apart from "no polls yet".
func (r *Reader) ProgramDeployed(ctx context.Context) (Result[bool], error) {
	snap, err := r.store.Fetch(ctx, r.ProgramKey(), r.fetchProgram)
	return Decode[bool](snap), err
}

func (r *Reader) RefetchProgramDeployed(ctx context.Context) (Result[bool], error) {
	snap, err := r.store.Refetch(ctx, r.ProgramKey(), r.fetchProgram)
	return Decode[bool](snap), err
}

func (r *Reader) fetchPolls(ctx context.Context) (any, error) {
	accs, err := r.ledger.ProgramAccounts(ctx, r.program, program.PollDiscriminator[:])
	if err != nil {
		return nil, r.readErr(r.PollsKey(), err)
	}
	polls := make([]program.Poll, 0, len(accs))
	for _, acc := range accs {
		p, err := program.DecodePoll(acc.Address, acc.Data)
		if err != nil {
			r.log.Error("skipping undecodable poll account", "address", acc.Address.String(), "err", err)
			continue
		}
		polls = append(polls, p)
	}
	slices.SortFunc(polls, func(a, b program.Poll) int {
		switch {
		case a.PollID < b.PollID:
			return -1
		case a.PollID > b.PollID:
			return 1
		}
		return 0
	})
	r.log.Debug("fetched polls", "count", len(polls))
	return polls, nil
}

func (r *Reader) fetchCandidates(ctx context.Context) (any, error) {
	accs, err := r.ledger.ProgramAccounts(ctx, r.program, program.CandidateDiscriminator[:])
	if err != nil {
		return nil, r.readErr(r.CandidatesKey(), err)
	}
	cands := make([]program.Candidate, 0, len(accs))
	for _, acc := range accs {
		c, err := program.DecodeCandidate(acc.Address, acc.Data)
		if err != nil {
			r.log.Error("skipping undecodable candidate account", "address", acc.Address.String(), "err", err)
			continue
		}
		cands = append(cands, c)
	}
	slices.SortFunc(cands, func(a, b program.Candidate) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Address.String(), b.Address.String())
	})
	r.log.Debug("fetched candidates", "count", len(cands))
	return cands, nil
}

func (r *Reader) account(ctx context.Context, key cache.Key, addr solana.PublicKey) (*ledger.Account, error) {
	acc, err := r.ledger.Account(ctx, addr)
	if err != nil {
		return nil, r.readErr(key, err)
	}
	if acc.Owner != r.program {
		return nil, r.readErr(key, fmt.Errorf("account %s is owned by %s", addr, acc.Owner))
	}
	return acc, nil
}

func (r *Reader) pollFetcher(addr solana.PublicKey) cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		key := r.PollKey(addr)
		acc, err := r.account(ctx, key, addr)
		if err != nil {
			return nil, err
		}
		p, err := program.DecodePoll(addr, acc.Data)
		if err != nil {
			return nil, r.readErr(key, err)
		}
		return p, nil
	}
}

func (r *Reader) candidateFetcher(addr solana.PublicKey) cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		key := r.CandidateKey(addr)
		acc, err := r.account(ctx, key, addr)
		if err != nil {
			return nil, err
		}
		c, err := program.DecodeCandidate(addr, acc.Data)
		if err != nil {
			return nil, r.readErr(key, err)
		}
		return c, nil
	}
}

func (r *Reader) fetchProgram(ctx context.Context) (any, error) {
	acc, err := r.ledger.Account(ctx, r.program)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return nil, r.readErr(r.ProgramKey(), err)
	}
	return acc.Executable, nil
}
