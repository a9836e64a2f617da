// Package voting is the facade views use to talk to the voting program: a
// program-scoped Client and a poll-scoped PollClient. It only threads
// parameters through the reader, builder and orchestrator and chooses which
// cached queries each mutation invalidates.
package voting

import (
	"context"
	"sync"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/gagliardetto/solana-go"

	"voting-client/internal/cache"
	"voting-client/internal/ledger"
	"voting-client/internal/metrics"
	"voting-client/internal/mutation"
	"voting-client/internal/outcome"
	"voting-client/internal/pda"
	"voting-client/internal/program"
	"voting-client/internal/reader"
	"voting-client/internal/txbuilder"
	"voting-client/internal/wallet"
)

// Cluster selects the ledger and the program id deployed on it.
type Cluster struct {
	Name      string
	ProgramID solana.PublicKey
	Ledger    ledger.Ledger
}

// PollParams describe a poll to create.
type PollParams struct {
	ID          uint64
	Description string
	Start       time.Time
	End         time.Time
}

type options struct {
	log      log.Logger
	metrics  *metrics.Metrics
	notifier mutation.Notifier
	recorder mutation.Recorder
	mutation []mutation.Option
}

// Option configures a Client.
type Option func(*options)

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNotifier receives the outcome of every mutation.
func WithNotifier(n mutation.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithRecorder(r mutation.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(o *options) { o.mutation = append(o.mutation, mutation.WithConfirmTimeout(d)) }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.mutation = append(o.mutation, mutation.WithPollInterval(d)) }
}

// view is everything bound to the selected cluster.
type view struct {
	cluster Cluster
	reader  *reader.Reader
	builder *txbuilder.Builder
	orch    *mutation.Orchestrator
}

// Client is scoped to the voting program on one cluster at a time.
type Client struct {
	store  *cache.Store
	signer wallet.Signer
	opts   options

	createPoll      *mutation.Tracker
	createCandidate *mutation.Tracker

	mu sync.RWMutex
	v  view
}

// New returns a client for cluster. signer may be nil for a read-only client;
// its mutations are then rejected without reaching the ledger.
func New(store *cache.Store, cluster Cluster, signer wallet.Signer, opts ...Option) *Client {
	c := &Client{
		store:           store,
		signer:          signer,
		opts:            options{log: log.NewNopLogger()},
		createPoll:      mutation.NewTracker(),
		createCandidate: mutation.NewTracker(),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	c.v = c.bind(cluster)
	return c
}

func (c *Client) bind(cluster Cluster) view {
	if cluster.ProgramID.IsZero() {
		cluster.ProgramID = program.DefaultID
	}
	mopts := append([]mutation.Option{
		mutation.WithLogger(c.opts.log),
		mutation.WithMetrics(c.opts.metrics),
		mutation.WithNotifier(c.opts.notifier),
		mutation.WithRecorder(c.opts.recorder),
	}, c.opts.mutation...)
	return view{
		cluster: cluster,
		reader:  reader.New(c.store, cluster.Name, cluster.ProgramID, cluster.Ledger, c.opts.log),
		builder: txbuilder.New(cluster.ProgramID),
		orch:    mutation.New(cluster.Name, cluster.Ledger, c.signer, c.store, mopts...),
	}
}

func (c *Client) view() view {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

// Cluster returns the selected cluster.
func (c *Client) Cluster() Cluster {
	return c.view().cluster
}

// Store returns the cache shared by every cluster.
func (c *Client) Store() *cache.Store {
	return c.store
}

// Reader returns the reader of the selected cluster.
func (c *Client) Reader() *reader.Reader {
	return c.view().reader
}

// SwitchCluster selects cluster and drops every cached query of the previous
// one. It returns the number of dropped entries.
func (c *Client) SwitchCluster(cluster Cluster) int {
	c.mu.Lock()
	old := c.v.cluster
	c.v = c.bind(cluster)
	c.mu.Unlock()

	n := c.store.DropCluster(old.Name)
	c.opts.log.Info("cluster switched", "from", old.Name, "to", cluster.Name, "dropped", n)
	return n
}

// PollAccount returns the address of the poll with id.
func (c *Client) PollAccount(id uint64) (solana.PublicKey, error) {
	addr, err := pda.Poll(c.view().cluster.ProgramID, id)
	return addr.Key, err
}

func (c *Client) Polls(ctx context.Context) (reader.Result[[]program.Poll], error) {
	return c.view().reader.ListPolls(ctx)
}

func (c *Client) RefetchPolls(ctx context.Context) (reader.Result[[]program.Poll], error) {
	return c.view().reader.RefetchPolls(ctx)
}

func (c *Client) Candidates(ctx context.Context) (reader.Result[[]program.Candidate], error) {
	return c.view().reader.ListCandidates(ctx)
}

func (c *Client) RefetchCandidates(ctx context.Context) (reader.Result[[]program.Candidate], error) {
	return c.view().reader.RefetchCandidates(ctx)
}

func (c *Client) ProgramDeployed(ctx context.Context) (reader.Result[bool], error) {
	return c.view().reader.ProgramDeployed(ctx)
}

func (c *Client) RefetchProgramDeployed(ctx context.Context) (reader.Result[bool], error) {
	return c.view().reader.RefetchProgramDeployed(ctx)
}

// CandidatesForPoll filters the candidate collection to the candidates of
// poll id.
func (c *Client) CandidatesForPoll(ctx context.Context, id uint64) (reader.Result[[]program.Candidate], error) {
	v := c.view()
	res, err := v.reader.ListCandidates(ctx)
	if res.Data == nil {
		return res, err
	}
	res.Data = GroupCandidates(v.cluster.ProgramID, []uint64{id}, res.Data)[id]
	if res.Data == nil {
		res.Data = []program.Candidate{}
	}
	return res, err
}

// GroupCandidates assigns candidates to the given poll ids. Candidate
// accounts do not store their poll; membership is decided by re-deriving each
// candidate's address under every poll id. Candidates of other polls are dropped.
func GroupCandidates(programID solana.PublicKey, pollIDs []uint64, cands []program.Candidate) map[uint64][]program.Candidate {
	out := make(map[uint64][]program.Candidate, len(pollIDs))
	for _, cand := range cands {
		for _, id := range pollIDs {
			addr, err := pda.Candidate(programID, id, cand.Name)
			if err == nil && addr.Key == cand.Address {
				out[id] = append(out[id], cand)
				break
			}
		}
	}
	return out
}

// CreatePollTracker follows CreatePoll attempts.
func (c *Client) CreatePollTracker() *mutation.Tracker { return c.createPoll }

// CreateCandidateTracker follows CreateCandidate attempts.
func (c *Client) CreateCandidateTracker() *mutation.Tracker { return c.createCandidate }

func (c *Client) payer() (solana.PublicKey, error) {
	if c.signer == nil {
		return solana.PublicKey{}, outcome.Validationf("no wallet connected")
	}
	return c.signer.PublicKey(), nil
}

// CreatePoll creates a poll. A confirmed creation refreshes the poll collection.
func (c *Client) CreatePoll(ctx context.Context, p PollParams) outcome.Outcome {
	v := c.view()
	build := func() (*txbuilder.Unsigned, error) {
		payer, err := c.payer()
		if err != nil {
			return nil, err
		}
		addr, err := pda.Poll(v.cluster.ProgramID, p.ID)
		if err != nil {
			return nil, err
		}
		return v.builder.Build(txbuilder.InitializePoll{
			Accounts: txbuilder.InitializePollAccounts{
				Signer:        payer,
				Poll:          addr.Key,
				SystemProgram: solana.SystemProgramID,
			},
			PollID:      p.ID,
			Description: p.Description,
			Start:       p.Start,
			End:         p.End,
		}, payer)
	}
	return v.orch.Run(ctx, c.createPoll, program.InitializePoll, build, v.reader.PollsKey())
}

// CreateCandidate registers name in poll id. A confirmed creation refreshes
// the candidate collection, the poll collection and the poll itself, since the
// poll's candidate count changes too.
func (c *Client) CreateCandidate(ctx context.Context, id uint64, name string) outcome.Outcome {
	v := c.view()
	poll, pollErr := pda.Poll(v.cluster.ProgramID, id)
	build := func() (*txbuilder.Unsigned, error) {
		if pollErr != nil {
			return nil, pollErr
		}
		payer, err := c.payer()
		if err != nil {
			return nil, err
		}
		cand, err := pda.Candidate(v.cluster.ProgramID, id, name)
		if err != nil {
			return nil, err
		}
		return v.builder.Build(txbuilder.InitializeCandidate{
			Accounts: txbuilder.CandidateAccounts{
				Signer:        payer,
				Poll:          poll.Key,
				Candidate:     cand.Key,
				SystemProgram: solana.SystemProgramID,
			},
			PollID:        id,
			CandidateName: name,
		}, payer)
	}
	return v.orch.Run(ctx, c.createCandidate, program.InitializeCandidate, build,
		v.reader.CandidatesKey(), v.reader.PollsKey(), v.reader.PollKey(poll.Key))
}
