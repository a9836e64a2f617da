// Package cache is the query cache behind the account reader.
//
// Entries are keyed by cluster, query shape and parameters. The only ways to
// change an entry are a completed fetch and an invalidation; both go through
// Store so coalescing and ordering rules cannot be bypassed.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"golang.org/x/sync/singleflight"

	"voting-client/internal/metrics"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("cache closed")

// State is the observable state of a query.
type State int

const (
	// Pending: no result yet, first fetch in flight.
	Pending State = iota
	// Ready: holds the last successful result, possibly stale.
	Ready
	// Failed: the last fetch failed; Value keeps the previous ready data if any.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Key identifies one query.
type Key struct {
	Cluster string
	Shape   string
	Params  string
}

func (k Key) String() string {
	s := k.Cluster + "/" + k.Shape
	if k.Params != "" {
		s += "/" + k.Params
	}
	return s
}

// Snapshot is a point-in-time copy of an entry.
type Snapshot struct {
	Key      Key
	State    State
	Value    any
	Err      error
	Stale    bool
	Fetching bool
	// Generation of the fetch whose result is held; newer fetches have larger generations.
	Generation uint64
	UpdatedAt  time.Time
}

// Fetcher performs the remote read for a key.
type Fetcher func(ctx context.Context) (any, error)

// Listener receives a snapshot each time an entry changes.
type Listener func(Snapshot)

type entry struct {
	key       Key
	fetch     Fetcher
	state     State
	value     any
	err       error
	updatedAt time.Time
	applied   uint64 // generation of the held result
	inflight  uint64 // generation of the newest running fetch, 0 if none
	freshFrom uint64 // results older than this were read before the last invalidation
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:        e.key,
		State:      e.state,
		Value:      e.value,
		Err:        e.err,
		Stale:      e.applied < e.freshFrom,
		Fetching:   e.inflight != 0,
		Generation: e.applied,
		UpdatedAt:  e.updatedAt,
	}
}

type flightResult struct {
	gen   uint64
	value any
	err   error
}

// Store owns every cached query.
type Store struct {
	log          log.Logger
	metrics      *metrics.Metrics
	fetchTimeout time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	group  singleflight.Group

	mu        sync.Mutex
	cond      *sync.Cond
	closed    bool
	gen       uint64
	entries   map[Key]*entry
	listeners map[uint64]Listener
	nextSub   uint64
	events    []Snapshot
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithFetchTimeout bounds every remote read.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) { s.fetchTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New starts a Store. Close must be called to stop its goroutines.
func New(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		log:          log.NewNopLogger(),
		fetchTimeout: 30 * time.Second,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		entries:      make(map[Key]*entry),
		listeners:    make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(1)
	go s.dispatch()
	return s
}

// Close abandons running fetches and waits for them and the notifier to stop.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

// Subscribe registers l for change notifications of every key. Notifications
// are delivered in order from a single goroutine; l may call back into the Store.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Peek returns the current snapshot of key without fetching.
func (s *Store) Peek(key Key) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Snapshot{Key: key}, false
	}
	return e.snapshot(), true
}

// Fetch returns the cached result of key when it is ready and fresh;
// otherwise it joins the running fetch or starts one.
func (s *Store) Fetch(ctx context.Context, key Key, fetch Fetcher) (Snapshot, error) {
	return s.get(ctx, key, fetch, false)
}

// Refetch always reads through to the ledger, joining a running fetch if one exists.
func (s *Store) Refetch(ctx context.Context, key Key, fetch Fetcher) (Snapshot, error) {
	return s.get(ctx, key, fetch, true)
}

func (s *Store) get(ctx context.Context, key Key, fetch Fetcher, force bool) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{Key: key}, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok {
		if fetch == nil {
			s.mu.Unlock()
			return Snapshot{Key: key}, fmt.Errorf("no fetcher registered for %s", key)
		}
		e = &entry{key: key, state: Pending}
		s.entries[key] = e
	}
	if fetch != nil {
		e.fetch = fetch
	}

	snap := e.snapshot()
	if !force && snap.State == Ready && !snap.Stale {
		s.mu.Unlock()
		return snap, nil
	}

	var (
		gen uint64
		ch  <-chan singleflight.Result
	)
	if e.inflight != 0 {
		gen = e.inflight
		// Joining under s.mu: the flight clears e.inflight under s.mu before it
		// returns, so the singleflight call is still registered here.
		ch = s.group.DoChan(flightKey(key, gen), s.joined(e, gen))
		s.metrics.ObserveCoalesced(key.Shape)
	} else {
		gen, ch = s.startLocked(e)
		s.enqueueLocked(e)
	}
	s.mu.Unlock()

	return s.wait(ctx, e, gen, ch)
}

// Invalidate marks keys stale. Entries that were fetched before are read
// again; a fetch already running for them is abandoned and its result will
// not be applied over the new one.
func (s *Store) Invalidate(keys ...Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, key := range keys {
		e, ok := s.entries[key]
		if !ok {
			continue
		}
		s.metrics.ObserveInvalidation(key.Shape)
		gen, _ := s.startLocked(e)
		e.freshFrom = gen
		s.enqueueLocked(e)
		s.log.Debug("cache invalidated", "key", key.String(), "gen", gen)
	}
}

// DropCluster removes every entry of cluster. Running fetches for them finish
// but their results are discarded.
func (s *Store) DropCluster(cluster string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if k.Cluster == cluster {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func flightKey(key Key, gen uint64) string {
	return fmt.Sprintf("%s#%d", key, gen)
}

// startLocked launches a new fetch generation for e. s.mu must be held.
func (s *Store) startLocked(e *entry) (uint64, <-chan singleflight.Result) {
	s.gen++
	gen := s.gen
	e.inflight = gen
	fetch := e.fetch
	s.wg.Add(1)
	ch := s.group.DoChan(flightKey(e.key, gen), func() (any, error) {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.fetchTimeout)
		defer cancel()
		s.metrics.ObserveRead(e.key.Shape)
		v, err := fetch(ctx)
		s.complete(e, gen, v, err)
		return flightResult{gen: gen, value: v, err: err}, nil
	})
	return gen, ch
}

// joined is handed to singleflight by callers that join a running flight.
// It only runs if that flight already finished, and then reports the held result.
func (s *Store) joined(e *entry, gen uint64) func() (any, error) {
	return func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return flightResult{gen: gen, value: e.value, err: e.err}, nil
	}
}

func (s *Store) complete(e *entry, gen uint64, v any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.inflight == gen {
		e.inflight = 0
	}
	if err != nil {
		s.metrics.ObserveReadFailure(e.key.Shape)
	}
	if s.entries[e.key] != e || gen <= e.applied {
		s.metrics.ObserveDiscarded(e.key.Shape)
		s.log.Debug("cache result discarded", "key", e.key.String(), "gen", gen, "applied", e.applied)
		if s.entries[e.key] == e {
			s.enqueueLocked(e)
		}
		return
	}
	e.applied = gen
	e.updatedAt = s.now()
	if err != nil {
		e.state = Failed
		e.err = err
		s.log.Error("cache fetch failed", "key", e.key.String(), "err", err)
	} else {
		e.state = Ready
		e.value = v
		e.err = nil
	}
	s.enqueueLocked(e)
}

func (s *Store) wait(ctx context.Context, e *entry, gen uint64, ch <-chan singleflight.Result) (Snapshot, error) {
	var res singleflight.Result
	select {
	case <-ctx.Done():
		snap, _ := s.Peek(e.key)
		return snap, ctx.Err()
	case res = <-ch:
	}
	fr, _ := res.Val.(flightResult)

	s.mu.Lock()
	current := s.entries[e.key] == e
	snap := e.snapshot()
	s.mu.Unlock()

	if current && snap.Generation >= gen {
		if snap.State == Failed {
			return snap, snap.Err
		}
		return snap, nil
	}
	// Our result was not applied: the entry was dropped.
	out := Snapshot{Key: e.key, State: Ready, Value: fr.value, Err: fr.err, Stale: true, Generation: fr.gen}
	if fr.err != nil {
		out.State = Failed
	}
	return out, fr.err
}

func (s *Store) enqueueLocked(e *entry) {
	s.events = append(s.events, e.snapshot())
	s.cond.Signal()
}

func (s *Store) dispatch() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.events) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		events := s.events
		s.events = nil
		listeners := make([]Listener, 0, len(s.listeners))
		for _, l := range s.listeners {
			listeners = append(listeners, l)
		}
		s.mu.Unlock()

		for _, ev := range events {
			for _, l := range listeners {
				l(ev)
			}
		}
	}
}
