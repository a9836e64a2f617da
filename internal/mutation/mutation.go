// Package mutation submits voting transactions and reconciles the read cache
// with their confirmed effects.
//
// A mutation never touches cached data directly. Once the ledger confirms
// it, the keys it affects are invalidated and read again; any other outcome
// leaves the cache untouched.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"voting-client/internal/cache"
	"voting-client/internal/ledger"
	"voting-client/internal/metrics"
	"voting-client/internal/outcome"
	"voting-client/internal/txbuilder"
	"voting-client/internal/wallet"
)

const (
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	recordTimeout         = 5 * time.Second
)

// Notifier is told about every terminal outcome.
type Notifier interface {
	Notify(outcome.Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(outcome.Outcome)

func (f NotifierFunc) Notify(o outcome.Outcome) { f(o) }

// Attempt is one finished mutation, as handed to a Recorder.
type Attempt struct {
	ID         uuid.UUID
	Cluster    string
	Payer      solana.PublicKey
	Outcome    outcome.Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists finished attempts.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// Orchestrator drives mutations from an unsigned instruction to a terminal outcome.
type Orchestrator struct {
	cluster  string
	ledger   ledger.Ledger
	signer   wallet.Signer
	store    *cache.Store
	log      log.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	recorder Recorder
	now      func() time.Time

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithConfirmTimeout bounds how long a sent transaction is watched before
// the outcome is reported indeterminate.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.confirmTimeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// New returns an orchestrator submitting to l on behalf of signer and
// invalidating entries of store.
func New(cluster string, l ledger.Ledger, signer wallet.Signer, store *cache.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cluster:        cluster,
		ledger:         l,
		signer:         signer,
		store:          store,
		log:            log.NewNopLogger(),
		now:            time.Now,
		confirmTimeout: DefaultConfirmTimeout,
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("module", "mutation", "cluster", cluster)
	return o
}

// Signer returns the identity transactions are signed with.
func (o *Orchestrator) Signer() wallet.Signer {
	return o.signer
}

// Submit signs, sends and confirms u. Only a confirmed mutation invalidates
// the given keys.
func (o *Orchestrator) Submit(ctx context.Context, u *txbuilder.Unsigned, invalidate ...cache.Key) outcome.Outcome {
	return o.Run(ctx, nil, u.Operation, func() (*txbuilder.Unsigned, error) { return u, nil }, invalidate...)
}

// Run builds and submits one mutation of op, reporting progress to t when non-nil.
// Nothing is sent when build fails.
func (o *Orchestrator) Run(ctx context.Context, t *Tracker, op string, build func() (*txbuilder.Unsigned, error), invalidate ...cache.Key) outcome.Outcome {
	att := Attempt{ID: uuid.New(), Cluster: o.cluster, StartedAt: o.now()}
	if o.signer != nil {
		att.Payer = o.signer.PublicKey()
	}
	logger := o.log.With("attempt", att.ID.String(), "op", op)

	var out outcome.Outcome
	if err := t.begin(); err != nil {
		// Another attempt owns the tracker; do not overwrite its state.
		out = outcome.Failed(op, solana.Signature{}, err)
	} else {
		out = o.run(ctx, t, logger, op, build)
		if out.Kind == outcome.Confirmed {
			o.store.Invalidate(invalidate...)
		}
		t.finish(out)
	}

	att.Outcome = out
	att.FinishedAt = o.now()
	o.report(ctx, logger, att)
	return out
}

func (o *Orchestrator) run(ctx context.Context, t *Tracker, logger log.Logger, op string, build func() (*txbuilder.Unsigned, error)) outcome.Outcome {
	var zero solana.Signature
	if o.signer == nil {
		return outcome.Failed(op, zero, outcome.Validationf("no signer configured"))
	}
	u, err := build()
	if err != nil {
		return outcome.Failed(op, zero, err)
	}
	if u.Payer != o.signer.PublicKey() {
		return outcome.Failed(op, zero, outcome.Validationf("payer %s is not the signer %s", u.Payer, o.signer.PublicKey()))
	}

	blockhash, err := o.ledger.LatestBlockhash(ctx)
	if err != nil {
		return outcome.Failed(op, zero, fmt.Errorf("%w: fetch blockhash: %w", outcome.ErrSubmissionRejected, err))
	}
	tx, err := u.Transaction(blockhash)
	if err != nil {
		return outcome.Failed(op, zero, fmt.Errorf("%w: %w", outcome.ErrSubmissionRejected, err))
	}
	if err := o.signer.SignTransaction(ctx, tx); err != nil {
		return outcome.Failed(op, zero, fmt.Errorf("%w: %w", outcome.ErrSubmissionRejected, err))
	}

	sig, err := o.ledger.Send(ctx, tx)
	if err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			return outcome.Failed(op, zero, fmt.Errorf("%w: %w", outcome.ErrSubmissionRejected, err))
		}
		return outcome.Failed(op, zero, fmt.Errorf("%w: send: %w", outcome.ErrSubmissionIndeterminate, err))
	}
	t.submitted(sig)
	logger.Debug("transaction sent", "sig", sig.String())

	return o.confirm(ctx, logger, op, sig)
}

func (o *Orchestrator) confirm(ctx context.Context, logger log.Logger, op string, sig solana.Signature) outcome.Outcome {
	ctx, cancel := context.WithTimeout(ctx, o.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		st, err := o.ledger.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			logger.Debug("signature status unavailable", "sig", sig.String(), "err", err)
		case st.Confirmation == ledger.Confirmed || st.Confirmation == ledger.Finalized:
			return outcome.Outcome{Kind: outcome.Confirmed, Operation: op, Signature: sig}
		case st.Confirmation == ledger.Failed:
			return outcome.Failed(op, sig, fmt.Errorf("%w: transaction failed in slot %d: %w", outcome.ErrSubmissionRejected, st.Slot, st.Err))
		}

		select {
		case <-ctx.Done():
			return outcome.Failed(op, sig, fmt.Errorf("%w: %s not confirmed: %w", outcome.ErrSubmissionIndeterminate, sig, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) report(ctx context.Context, logger log.Logger, att Attempt) {
	out := att.Outcome
	o.metrics.ObserveMutation(out.Operation, out.Kind.String())
	if out.Kind == outcome.Confirmed {
		logger.Info("mutation confirmed", "sig", out.Signature.String(), "took", att.FinishedAt.Sub(att.StartedAt))
	} else {
		logger.Error("mutation not confirmed", "outcome", out.Kind.String(), "err", out.Err)
	}
	if o.notifier != nil {
		o.notifier.Notify(out)
	}
	if o.recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := o.recorder.Record(rctx, att); err != nil {
			logger.Error("failed to record mutation", "err", err)
		}
	}
}
