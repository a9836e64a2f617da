// Package ledgertest provides an in-memory Ledger that executes the voting
// program's instructions, for tests of the layers above the ledger.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"voting-client/internal/ledger"
	"voting-client/internal/pda"
	"voting-client/internal/program"
)

// Program errors, named after the on-chain error codes.
var (
	ErrAlreadyInUse     = errors.New("account already in use")
	ErrAlreadyVoted     = errors.New("AlreadyVoted: you have already voted in this poll")
	ErrPollNotStarted   = errors.New("PollNotStarted: the poll has not started yet")
	ErrPollEnded        = errors.New("PollEnded: the poll has ended")
	ErrAccountNotInit   = errors.New("AccountNotInitialized: the account is not initialized")
	ErrSeedsConstraint  = errors.New("ConstraintSeeds: a seeds constraint was violated")
	ErrInvalidArgument  = errors.New("InvalidArgument: argument out of range")
	ErrPollEndedInPast  = errors.New("PollEndedInPast: poll end time must be in the future")
	ErrInvalidDuration  = errors.New("InvalidPollDuration: poll start time must be before end time")
	ErrMissingSignature = errors.New("signature verification failed")
	ErrBlockhashUnknown = errors.New("blockhash not found")
)

// Ledger is a single-node in-memory cluster running the voting program.
type Ledger struct {
	program solana.PublicKey

	mu         sync.Mutex
	now        func() time.Time
	accounts   map[solana.PublicKey]ledger.Account
	statuses   map[solana.Signature]ledger.Status
	blockhashN uint64
	blockhash  map[solana.Hash]bool
	slot       uint64
	reads      map[string]int
	sends      int

	readHook     func(ctx context.Context, method string) error
	statusHook   func(ctx context.Context, sig solana.Signature) error
	sendErr      error
	dropStatuses bool
	landFailures bool
}

var _ ledger.Ledger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock the program sees when checking poll windows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Undeployed leaves the program account empty.
func Undeployed() Option {
	return func(l *Ledger) { delete(l.accounts, l.program) }
}

// New returns a ledger with the program deployed at programID.
func New(programID solana.PublicKey, opts ...Option) *Ledger {
	l := &Ledger{
		program:   programID,
		now:       time.Now,
		accounts:  make(map[solana.PublicKey]ledger.Account),
		statuses:  make(map[solana.Signature]ledger.Status),
		blockhash: make(map[solana.Hash]bool),
		reads:     make(map[string]int),
	}
	l.accounts[programID] = ledger.Account{
		Address:    programID,
		Owner:      solana.BPFLoaderUpgradeableProgramID,
		Executable: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetReadHook installs fn to run before every account read. A non-nil error
// from fn is returned by the read; fn may block to delay the read.
func (l *Ledger) SetReadHook(fn func(ctx context.Context, method string) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readHook = fn
}

// SetStatusHook installs fn to run before every SignatureStatus; fn may block
// to hold a submitted transaction unconfirmed.
func (l *Ledger) SetStatusHook(fn func(ctx context.Context, sig solana.Signature) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusHook = fn
}

// FailSends makes Send return err without executing anything until cleared with nil.
func (l *Ledger) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// DropStatuses makes executed transactions invisible to SignatureStatus, as if
// the confirmation never reached the client.
func (l *Ledger) DropStatuses(drop bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropStatuses = drop
}

// LandFailures records program errors as failed transactions instead of
// refusing them at preflight.
func (l *Ledger) LandFailures(land bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.landFailures = land
}

// Reads returns how many times method ("ProgramAccounts" or "Account") was served.
func (l *Ledger) Reads(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads[method]
}

// Sends returns how many transactions were submitted.
func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

// Put stores raw account data owned by owner at addr.
func (l *Ledger) Put(addr, owner solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[addr] = ledger.Account{Address: addr, Owner: owner, Data: append([]byte(nil), data...)}
}

func (l *Ledger) read(ctx context.Context, method string) error {
	l.mu.Lock()
	hook := l.readHook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, method); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	l.reads[method]++
	l.mu.Unlock()
	return nil
}

func (l *Ledger) ProgramAccounts(ctx context.Context, prog solana.PublicKey, prefix []byte) ([]ledger.Account, error) {
	if err := l.read(ctx, "ProgramAccounts"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Account
	for _, acc := range l.accounts {
		if acc.Owner != prog || len(acc.Data) < len(prefix) {
			continue
		}
		if string(acc.Data[:len(prefix)]) != string(prefix) {
			continue
		}
		acc.Data = append([]byte(nil), acc.Data...)
		out = append(out, acc)
	}
	return out, nil
}

func (l *Ledger) Account(ctx context.Context, addr solana.PublicKey) (*ledger.Account, error) {
	if err := l.read(ctx, "Account"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	acc.Data = append([]byte(nil), acc.Data...)
	return &acc, nil
}

func (l *Ledger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := ctx.Err(); err != nil {
		return solana.Hash{}, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockhashN++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], l.blockhashN)
	h := solana.Hash(sha256.Sum256(seed[:]))
	l.blockhash[h] = true
	return h, nil
}

func (l *Ledger) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends++
	if l.sendErr != nil {
		return solana.Signature{}, l.sendErr
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("%w: %w", ledger.ErrRejected, ErrMissingSignature)
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w: %w", ledger.ErrRejected, ErrMissingSignature, err)
	}
	if !l.blockhash[tx.Message.RecentBlockhash] {
		return solana.Signature{}, fmt.Errorf("%w: %w", ledger.ErrRejected, ErrBlockhashUnknown)
	}
	sig := tx.Signatures[0]

	l.slot++
	execErr := l.execute(tx)
	switch {
	case execErr != nil && !l.landFailures:
		return solana.Signature{}, fmt.Errorf("%w: simulation failed: %w", ledger.ErrRejected, execErr)
	case l.dropStatuses:
	case execErr != nil:
		l.statuses[sig] = ledger.Status{Confirmation: ledger.Failed, Slot: l.slot, Err: execErr}
	default:
		l.statuses[sig] = ledger.Status{Confirmation: ledger.Confirmed, Slot: l.slot}
	}
	return sig, nil
}

func (l *Ledger) SignatureStatus(ctx context.Context, sig solana.Signature) (ledger.Status, error) {
	l.mu.Lock()
	hook := l.statusHook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, sig); err != nil {
			return ledger.Status{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return ledger.Status{}, fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[sig], nil
}

// execute runs every instruction of tx against a copy of the state and
// commits the copy only if all of them succeed. l.mu must be held.
func (l *Ledger) execute(tx *solana.Transaction) error {
	st := &state{
		program: l.program,
		now:     l.now(),
		base:    l.accounts,
		writes:  make(map[solana.PublicKey]ledger.Account),
	}
	for i, ci := range tx.Message.Instructions {
		progID, err := tx.Message.ResolveProgramIDIndex(ci.ProgramIDIndex)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		if progID != l.program {
			return fmt.Errorf("instruction %d: program %s is not deployed", i, progID)
		}
		keys := make([]solana.PublicKey, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			if int(idx) >= len(tx.Message.AccountKeys) {
				return fmt.Errorf("instruction %d: account index %d out of range", i, idx)
			}
			keys[j] = tx.Message.AccountKeys[idx]
		}
		if len(keys) == 0 || !tx.Message.IsSigner(keys[0]) {
			return fmt.Errorf("instruction %d: %w", i, ErrMissingSignature)
		}
		if err := st.run(keys, ci.Data); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	for addr, acc := range st.writes {
		l.accounts[addr] = acc
	}
	return nil
}

type state struct {
	program solana.PublicKey
	now     time.Time
	base    map[solana.PublicKey]ledger.Account
	writes  map[solana.PublicKey]ledger.Account
}

func (s *state) get(addr solana.PublicKey) (ledger.Account, bool) {
	if acc, ok := s.writes[addr]; ok {
		return acc, true
	}
	acc, ok := s.base[addr]
	return acc, ok
}

func (s *state) put(addr solana.PublicKey, data []byte) {
	s.writes[addr] = ledger.Account{Address: addr, Owner: s.program, Lamports: 1, Data: data}
}

func (s *state) expect(got solana.PublicKey, want pda.Address, err error) error {
	if err != nil {
		return err
	}
	if got != want.Key {
		return fmt.Errorf("%w: %s", ErrSeedsConstraint, got)
	}
	return nil
}

func (s *state) poll(addr solana.PublicKey) (program.Poll, error) {
	acc, ok := s.get(addr)
	if !ok {
		return program.Poll{}, fmt.Errorf("%w: poll %s", ErrAccountNotInit, addr)
	}
	return program.DecodePoll(addr, acc.Data)
}

func (s *state) candidate(addr solana.PublicKey) (program.Candidate, error) {
	acc, ok := s.get(addr)
	if !ok {
		return program.Candidate{}, fmt.Errorf("%w: candidate %s", ErrAccountNotInit, addr)
	}
	return program.DecodeCandidate(addr, acc.Data)
}

func (s *state) run(keys []solana.PublicKey, data []byte) error {
	name, dec, err := program.DecodeInstruction(data)
	if err != nil {
		return err
	}
	switch name {
	case program.InitializePoll:
		args, err := program.DecodeInitializePollArgs(dec)
		if err != nil {
			return err
		}
		return s.initializePoll(keys, args)
	case program.InitializeCandidate:
		args, err := program.DecodeCandidateArgs(dec)
		if err != nil {
			return err
		}
		return s.initializeCandidate(keys, args)
	case program.Vote:
		args, err := program.DecodeCandidateArgs(dec)
		if err != nil {
			return err
		}
		return s.vote(keys, args)
	}
	return fmt.Errorf("unhandled instruction %s", name)
}

func checkAccounts(keys []solana.PublicKey, n int) error {
	if len(keys) != n {
		return fmt.Errorf("expected %d accounts, got %d", n, len(keys))
	}
	if keys[n-1] != solana.SystemProgramID {
		return fmt.Errorf("account %s is not the system program", keys[n-1])
	}
	return nil
}

func validTimestamp(ts uint64) bool {
	return ts > 0 && ts < program.MaxTimestamp
}

func (s *state) initializePoll(keys []solana.PublicKey, args program.InitializePollArgs) error {
	if err := checkAccounts(keys, 3); err != nil {
		return err
	}
	pollAddr := keys[1]
	addr, err := pda.Poll(s.program, args.PollID)
	if err := s.expect(pollAddr, addr, err); err != nil {
		return err
	}
	if _, ok := s.get(pollAddr); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyInUse, pollAddr)
	}
	if len(args.Description) > program.MaxDescriptionLen || !validTimestamp(args.PollStart) || !validTimestamp(args.PollEnd) {
		return ErrInvalidArgument
	}
	if args.PollEnd <= uint64(s.now.Unix()) {
		return ErrPollEndedInPast
	}
	if args.PollStart >= args.PollEnd {
		return ErrInvalidDuration
	}
	data, err := program.EncodePoll(program.Poll{
		PollID:      args.PollID,
		Description: args.Description,
		Start:       time.Unix(int64(args.PollStart), 0),
		End:         time.Unix(int64(args.PollEnd), 0),
	})
	if err != nil {
		return err
	}
	s.put(pollAddr, data)
	return nil
}

func (s *state) initializeCandidate(keys []solana.PublicKey, args program.CandidateArgs) error {
	if err := checkAccounts(keys, 4); err != nil {
		return err
	}
	pollAddr, candAddr := keys[1], keys[2]
	addr, err := pda.Poll(s.program, args.PollID)
	if err := s.expect(pollAddr, addr, err); err != nil {
		return err
	}
	addr, err = pda.Candidate(s.program, args.PollID, args.CandidateName)
	if err := s.expect(candAddr, addr, err); err != nil {
		return err
	}
	poll, err := s.poll(pollAddr)
	if err != nil {
		return err
	}
	if _, ok := s.get(candAddr); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyInUse, candAddr)
	}
	if len(args.CandidateName) > program.MaxCandidateNameLen {
		return ErrInvalidArgument
	}
	cand, err := program.EncodeCandidate(program.Candidate{Name: args.CandidateName})
	if err != nil {
		return err
	}
	poll.CandidateAmount++
	pollData, err := program.EncodePoll(poll)
	if err != nil {
		return err
	}
	s.put(candAddr, cand)
	s.put(pollAddr, pollData)
	return nil
}

func (s *state) vote(keys []solana.PublicKey, args program.CandidateArgs) error {
	if err := checkAccounts(keys, 5); err != nil {
		return err
	}
	signer, pollAddr, candAddr, recordAddr := keys[0], keys[1], keys[2], keys[3]
	addr, err := pda.Poll(s.program, args.PollID)
	if err := s.expect(pollAddr, addr, err); err != nil {
		return err
	}
	addr, err = pda.Candidate(s.program, args.PollID, args.CandidateName)
	if err := s.expect(candAddr, addr, err); err != nil {
		return err
	}
	addr, err = pda.VoterRecord(s.program, signer, args.PollID)
	if err := s.expect(recordAddr, addr, err); err != nil {
		return err
	}
	poll, err := s.poll(pollAddr)
	if err != nil {
		return err
	}
	cand, err := s.candidate(candAddr)
	if err != nil {
		return err
	}
	if s.now.Before(poll.Start) {
		return ErrPollNotStarted
	}
	if s.now.After(poll.End) {
		return ErrPollEnded
	}
	if acc, ok := s.get(recordAddr); ok {
		rec, err := program.DecodeVoterRecord(recordAddr, acc.Data)
		if err != nil {
			return err
		}
		if rec.Voted {
			return ErrAlreadyVoted
		}
	}

	cand.Votes++
	poll.TotalVotes++
	candData, err := program.EncodeCandidate(cand)
	if err != nil {
		return err
	}
	pollData, err := program.EncodePoll(poll)
	if err != nil {
		return err
	}
	recData, err := program.EncodeVoterRecord(program.VoterRecord{Voted: true, Poll: pollAddr})
	if err != nil {
		return err
	}
	s.put(candAddr, candData)
	s.put(pollAddr, pollData)
	s.put(recordAddr, recData)
	return nil
}
