package mutation

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"voting-client/internal/outcome"
)

// Phase is the progress of the mutation a Tracker follows.
type Phase int

const (
	Idle Phase = iota
	Building
	Submitted
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Submitted:
		return "submitted"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Tracker follows one mutation at a time, e.g. the vote button of a view.
// A finished tracker may be reused; a running one refuses a second attempt.
// All methods are safe on a nil *Tracker.
type Tracker struct {
	mu        sync.Mutex
	phase     Phase
	signature solana.Signature
	last      outcome.Outcome
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Phase() Phase {
	if t == nil {
		return Idle
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Pending reports whether a mutation is building or awaiting confirmation.
func (t *Tracker) Pending() bool {
	p := t.Phase()
	return p == Building || p == Submitted
}

// Signature returns the signature of the sent transaction, if any.
func (t *Tracker) Signature() solana.Signature {
	if t == nil {
		return solana.Signature{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signature
}

// Outcome returns the terminal outcome of the last finished mutation.
func (t *Tracker) Outcome() (outcome.Outcome, bool) {
	if t == nil {
		return outcome.Outcome{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.phase == Done
}

func (t *Tracker) begin() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == Building || t.phase == Submitted {
		return outcome.Validationf("a mutation is already %s", t.phase)
	}
	t.phase = Building
	t.signature = solana.Signature{}
	t.last = outcome.Outcome{}
	return nil
}

func (t *Tracker) submitted(sig solana.Signature) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = Submitted
	t.signature = sig
}

func (t *Tracker) finish(o outcome.Outcome) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = Done
	t.last = o
}
