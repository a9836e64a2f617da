// Package monitor keeps the cached poll and candidate collections of the
// selected cluster fresh and pushes dashboards to the terminal view.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cometbft/cometbft/libs/log"

	"voting-client/internal/cache"
	"voting-client/internal/db"
	"voting-client/internal/program"
	"voting-client/internal/reader"
	"voting-client/internal/tui"
	"voting-client/internal/voting"
)

const (
	// UpdateChannelBufferSize is the buffer size of the TUI update channel
	UpdateChannelBufferSize = 100
	// CloseDelay gives the TUI time to quit after the update channel is closed
	CloseDelay = 100 * time.Millisecond

	DefaultInterval = 10 * time.Second

	// a refresh loop without success for this many intervals is stalled
	stallIntervals = 3
)

type Monitor struct {
	client   *voting.Client
	updates  chan<- interface{}
	log      log.Logger
	journal  *db.Journal
	interval time.Duration
	now      func() time.Time

	dirty   chan struct{}
	request chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup

	mu          sync.Mutex
	started     time.Time
	lastSuccess time.Time
	stalled     bool
}

type Option func(*Monitor)

func WithLogger(l log.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithJournal stores a snapshot of every successful refresh.
func WithJournal(j *db.Journal) Option {
	return func(m *Monitor) { m.journal = j }
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New returns a monitor publishing tui.Dashboard and tui.Notice values on
// updates. updates is never closed by the monitor.
func New(client *voting.Client, updates chan<- interface{}, opts ...Option) *Monitor {
	m := &Monitor{
		client:   client,
		updates:  updates,
		log:      log.NewNopLogger(),
		interval: DefaultInterval,
		now:      time.Now,
		dirty:    make(chan struct{}, 1),
		request:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh asks the running monitor for an immediate refresh. It never blocks.
func (m *Monitor) Refresh() {
	select {
	case m.request <- struct{}{}:
	default:
	}
}

func (m *Monitor) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// Run refreshes until ctx is cancelled. Every cache change of the selected
// cluster republishes the dashboard. Nothing is sent on updates after Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	unsubscribe := m.client.Store().Subscribe(func(s cache.Snapshot) {
		if s.Key.Cluster == m.client.Cluster().Name {
			m.markDirty()
		}
	})
	defer unsubscribe()
	defer m.wg.Wait()

	m.mu.Lock()
	m.started = m.now()
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	watchdog := time.NewTicker(m.interval)
	defer watchdog.Stop()

	m.publish(ctx, m.Dashboard())
	m.startRefresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.startRefresh(ctx)
		case <-m.request:
			m.startRefresh(ctx)
		case <-m.dirty:
			m.publish(ctx, m.Dashboard())
		case <-watchdog.C:
			m.checkStalled(ctx)
		}
	}
}

// startRefresh runs one refresh unless another is still in flight.
func (m *Monitor) startRefresh(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Debug("refresh still running, skipping")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.running.Store(false)
		if err := m.refresh(ctx); err != nil {
			if ctx.Err() == nil {
				m.log.Error("refresh failed", "cluster", m.client.Cluster().Name, "err", err)
			}
			return
		}
		m.mu.Lock()
		m.lastSuccess = m.now()
		m.mu.Unlock()
		m.markDirty()
	}()
}

func (m *Monitor) refresh(ctx context.Context) error {
	cluster := m.client.Cluster().Name
	if _, err := m.client.RefetchProgramDeployed(ctx); err != nil {
		return err
	}
	polls, err := m.client.RefetchPolls(ctx)
	if err != nil {
		return err
	}
	cands, err := m.client.RefetchCandidates(ctx)
	if err != nil {
		return err
	}
	m.log.Debug("refreshed", "cluster", cluster, "polls", len(polls.Data), "candidates", len(cands.Data))

	at := m.now()
	if err := m.journal.SavePolls(ctx, cluster, polls.Data, at); err != nil {
		m.log.Error("failed to save polls", "err", err)
	}
	if err := m.journal.SaveCandidates(ctx, cluster, cands.Data, at); err != nil {
		m.log.Error("failed to save candidates", "err", err)
	}
	return nil
}

// checkStalled flags the dashboard when no refresh succeeded for a while and
// clears the flag once one does.
func (m *Monitor) checkStalled(ctx context.Context) {
	m.mu.Lock()
	last := m.lastSuccess
	if last.IsZero() {
		last = m.started
	}
	stalled := m.now().Sub(last) > stallIntervals*m.interval
	changed := stalled != m.stalled
	m.stalled = stalled
	m.mu.Unlock()

	if !changed {
		return
	}
	if stalled {
		m.log.Error("no successful refresh", "since", last)
		m.publish(ctx, tui.Notice{Text: fmt.Sprintf("no successful refresh since %s", last.Local().Format("15:04:05")), Error: true})
	} else {
		m.log.Info("refresh recovered")
		m.publish(ctx, tui.Notice{})
	}
	m.publish(ctx, m.Dashboard())
}

func (m *Monitor) publish(ctx context.Context, v interface{}) {
	select {
	case m.updates <- v:
	case <-ctx.Done():
	default:
		m.log.Debug("update channel full, dropping update")
	}
}

// Dashboard builds the dashboard of the selected cluster from cached data
// without reading the ledger.
func (m *Monitor) Dashboard() tui.Dashboard {
	r := m.client.Reader()
	peek := func(key cache.Key) cache.Snapshot {
		snap, _ := r.Peek(key)
		return snap
	}
	deployed := reader.Decode[bool](peek(r.ProgramKey()))
	polls := reader.Decode[[]program.Poll](peek(r.PollsKey()))
	cands := reader.Decode[[]program.Candidate](peek(r.CandidatesKey()))

	m.mu.Lock()
	stalled := m.stalled
	m.mu.Unlock()

	d := tui.Dashboard{
		Cluster:   r.Cluster(),
		Program:   r.Program().String(),
		Deployed:  deployed.Data,
		Loading:   polls.Loading(),
		Fetching:  polls.Fetching || cands.Fetching,
		Stale:     polls.Stale || cands.Stale,
		Stalled:   stalled,
		UpdatedAt: polls.UpdatedAt,
	}
	for _, err := range []error{polls.Err, cands.Err, deployed.Err} {
		if err != nil {
			d.Err = err.Error()
			break
		}
	}

	ids := make([]uint64, len(polls.Data))
	for i, p := range polls.Data {
		ids[i] = p.PollID
	}
	groups := voting.GroupCandidates(r.Program(), ids, cands.Data)
	now := m.now()
	for _, p := range polls.Data {
		row := tui.PollRow{
			ID:              p.PollID,
			Description:     p.Description,
			Address:         p.Address.String(),
			Start:           p.Start,
			End:             p.End,
			Open:            p.Open(now),
			CandidateAmount: p.CandidateAmount,
			TotalVotes:      p.TotalVotes,
		}
		for _, c := range groups[p.PollID] {
			row.Candidates = append(row.Candidates, tui.CandidateRow{Name: c.Name, Votes: c.Votes})
		}
		d.Polls = append(d.Polls, row)
	}
	return d
}
