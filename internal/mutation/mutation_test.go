package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"voting-client/internal/cache"
	"voting-client/internal/ledger"
	"voting-client/internal/ledger/ledgertest"
	"voting-client/internal/metrics"
	"voting-client/internal/outcome"
	"voting-client/internal/pda"
	"voting-client/internal/program"
	"voting-client/internal/reader"
	"voting-client/internal/txbuilder"
	"voting-client/internal/wallet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var progID = program.DefaultID

type recorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *recorder) Record(_ context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

type fixture struct {
	ledger   *ledgertest.Ledger
	store    *cache.Store
	reader   *reader.Reader
	orch     *Orchestrator
	signer   *wallet.Keypair
	builder  *txbuilder.Builder
	notified []outcome.Outcome
	rec      *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  ledgertest.New(progID),
		signer:  wallet.NewKeypair(solana.NewWallet().PrivateKey),
		builder: txbuilder.New(progID),
		rec:     &recorder{},
	}
	store := cache.New()
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	f.store = store
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	f.reader = reader.New(store, "localnet", progID, f.ledger, nil)
	f.orch = New("localnet", f.ledger, f.signer, store,
		WithMetrics(m),
		WithRecorder(f.rec),
		WithNotifier(NotifierFunc(func(o outcome.Outcome) { f.notified = append(f.notified, o) })),
		WithConfirmTimeout(200*time.Millisecond),
		WithPollInterval(5*time.Millisecond),
	)
	return f
}

func (f *fixture) createPoll(t *testing.T, id uint64) *txbuilder.Unsigned {
	t.Helper()
	addr, err := pda.Poll(progID, id)
	require.NoError(t, err)
	now := time.Now()
	u, err := f.builder.Build(txbuilder.InitializePoll{
		Accounts: txbuilder.InitializePollAccounts{
			Signer:        f.signer.PublicKey(),
			Poll:          addr.Key,
			SystemProgram: solana.SystemProgramID,
		},
		PollID:      id,
		Description: fmt.Sprintf("poll %d", id),
		Start:       now.Add(-time.Hour),
		End:         now.Add(time.Hour),
	}, f.signer.PublicKey())
	require.NoError(t, err)
	return u
}

func TestConfirmedMutationInvalidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.reader.ListPolls(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Data)

	out := f.orch.Submit(ctx, f.createPoll(t, 7), f.reader.PollsKey())
	require.Equal(t, outcome.Confirmed, out.Kind, out.String())
	require.NotEqual(t, solana.Signature{}, out.Signature)

	res, err = f.reader.ListPolls(ctx)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	require.Equal(t, uint64(7), res.Data[0].PollID)
	require.Equal(t, 2, f.ledger.Reads("ProgramAccounts"))

	require.Len(t, f.notified, 1)
	require.Len(t, f.rec.attempts, 1)
	require.Equal(t, f.signer.PublicKey(), f.rec.attempts[0].Payer)
	require.Equal(t, outcome.Confirmed, f.rec.attempts[0].Outcome.Kind)
}

func TestRejectedMutationKeepsCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.Equal(t, outcome.Confirmed, f.orch.Submit(ctx, f.createPoll(t, 7), f.reader.PollsKey()).Kind)
	_, err := f.reader.ListPolls(ctx)
	require.NoError(t, err)
	reads := f.ledger.Reads("ProgramAccounts")

	out := f.orch.Submit(ctx, f.createPoll(t, 7), f.reader.PollsKey())
	require.Equal(t, outcome.Rejected, out.Kind)
	require.ErrorIs(t, out.Err, outcome.ErrSubmissionRejected)
	require.ErrorIs(t, out.Err, ledgertest.ErrAlreadyInUse)
	require.NotEmpty(t, out.Message())

	snap, ok := f.reader.Peek(f.reader.PollsKey())
	require.True(t, ok)
	require.False(t, snap.Stale)
	require.False(t, snap.Fetching)
	require.Equal(t, reads, f.ledger.Reads("ProgramAccounts"))
}

func TestFailedExecutionIsRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.Equal(t, outcome.Confirmed, f.orch.Submit(ctx, f.createPoll(t, 7)).Kind)

	f.ledger.LandFailures(true)
	out := f.orch.Submit(ctx, f.createPoll(t, 7))
	require.Equal(t, outcome.Rejected, out.Kind)
	require.NotEqual(t, solana.Signature{}, out.Signature, "failed transactions still landed")
	require.ErrorIs(t, out.Err, ledgertest.ErrAlreadyInUse)
}

func TestUnconfirmedMutationIsIndeterminate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.reader.ListPolls(ctx)
	require.NoError(t, err)

	f.ledger.DropStatuses(true)
	out := f.orch.Submit(ctx, f.createPoll(t, 7), f.reader.PollsKey())
	require.Equal(t, outcome.Indeterminate, out.Kind)
	require.ErrorIs(t, out.Err, outcome.ErrSubmissionIndeterminate)

	// the poll exists on chain, but nothing refreshes the cache until asked
	snap, _ := f.reader.Peek(f.reader.PollsKey())
	require.False(t, snap.Stale)
	require.Equal(t, 1, f.ledger.Reads("ProgramAccounts"))
	res, err := f.reader.RefetchPolls(ctx)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
}

func TestTransportFailureIsIndeterminate(t *testing.T) {
	f := setup(t)
	f.ledger.FailSends(fmt.Errorf("%w: connection reset", ledger.ErrUnavailable))

	out := f.orch.Submit(context.Background(), f.createPoll(t, 7))
	require.Equal(t, outcome.Indeterminate, out.Kind)
	require.Equal(t, solana.Signature{}, out.Signature)
}

func TestCancelledWhileConfirmingIsIndeterminate(t *testing.T) {
	f := setup(t)
	f.ledger.DropStatuses(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := f.orch.Submit(ctx, f.createPoll(t, 7))
	require.Equal(t, outcome.Indeterminate, out.Kind)
	require.True(t, errors.Is(out.Err, context.DeadlineExceeded))
}

func TestBuildFailureSendsNothing(t *testing.T) {
	f := setup(t)
	out := f.orch.Run(context.Background(), nil, program.Vote, func() (*txbuilder.Unsigned, error) {
		return nil, outcome.Validationf("candidate name is empty")
	})
	require.Equal(t, outcome.Rejected, out.Kind)
	require.ErrorIs(t, out.Err, outcome.ErrValidation)
	require.Equal(t, 0, f.ledger.Sends())
	require.Len(t, f.notified, 1)
}

func TestPayerMustBeSigner(t *testing.T) {
	f := setup(t)
	other := wallet.NewKeypair(solana.NewWallet().PrivateKey)
	addr, err := pda.Poll(progID, 1)
	require.NoError(t, err)
	u, err := f.builder.Build(txbuilder.InitializePoll{
		Accounts: txbuilder.InitializePollAccounts{
			Signer: other.PublicKey(), Poll: addr.Key, SystemProgram: solana.SystemProgramID,
		},
		PollID: 1, Description: "x", Start: time.Now(), End: time.Now().Add(time.Hour),
	}, other.PublicKey())
	require.NoError(t, err)

	out := f.orch.Submit(context.Background(), u)
	require.Equal(t, outcome.Rejected, out.Kind)
	require.Equal(t, 0, f.ledger.Sends())
}

func TestTrackerPhases(t *testing.T) {
	f := setup(t)
	tr := NewTracker()
	require.Equal(t, Idle, tr.Phase())

	u := f.createPoll(t, 3)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan outcome.Outcome, 1)
	go func() {
		done <- f.orch.Run(context.Background(), tr, program.InitializePoll, func() (*txbuilder.Unsigned, error) {
			close(started)
			<-release
			return u, nil
		})
	}()
	<-started
	require.Equal(t, Building, tr.Phase())
	require.True(t, tr.Pending())

	busy := f.orch.Run(context.Background(), tr, program.InitializePoll, func() (*txbuilder.Unsigned, error) {
		return u, nil
	})
	require.Equal(t, outcome.Rejected, busy.Kind)
	require.ErrorIs(t, busy.Err, outcome.ErrValidation)
	require.Equal(t, Building, tr.Phase())
	require.Equal(t, []outcome.Outcome{busy}, f.notified)
	require.Len(t, f.rec.attempts, 1)
	require.Equal(t, outcome.Rejected, f.rec.attempts[0].Outcome.Kind)

	close(release)
	out := <-done
	require.Equal(t, outcome.Confirmed, out.Kind)
	require.Equal(t, Done, tr.Phase())
	require.Len(t, f.notified, 2)
	require.Len(t, f.rec.attempts, 2)
	require.Equal(t, outcome.Confirmed, f.rec.attempts[1].Outcome.Kind)
	last, ok := tr.Outcome()
	require.True(t, ok)
	require.Equal(t, out, last)
	require.Equal(t, out.Signature, tr.Signature())
	require.Equal(t, 1, f.ledger.Sends())
}

func TestReadsDuringSubmissionServeCachedData(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res, err := f.reader.ListPolls(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Data)
	reads := f.ledger.Reads("ProgramAccounts")

	release := make(chan struct{})
	f.ledger.SetStatusHook(func(ctx context.Context, _ solana.Signature) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	orch := New("localnet", f.ledger, f.signer, f.store,
		WithConfirmTimeout(5*time.Second),
		WithPollInterval(5*time.Millisecond),
	)
	tr := NewTracker()
	u := f.createPoll(t, 7)
	done := make(chan outcome.Outcome, 1)
	go func() {
		done <- orch.Run(ctx, tr, program.InitializePoll, func() (*txbuilder.Unsigned, error) { return u, nil }, f.reader.PollsKey())
	}()
	require.Eventually(t, func() bool { return tr.Phase() == Submitted }, 2*time.Second, time.Millisecond)
	require.NotEqual(t, solana.Signature{}, tr.Signature())

	// the transaction executed but is unconfirmed: readers keep the cached view
	res, err = f.reader.ListPolls(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Data)
	snap, ok := f.reader.Peek(f.reader.PollsKey())
	require.True(t, ok)
	require.False(t, snap.Stale)
	require.False(t, snap.Fetching)
	require.Equal(t, reads, f.ledger.Reads("ProgramAccounts"))

	close(release)
	out := <-done
	require.Equal(t, outcome.Confirmed, out.Kind, out.String())
	require.Equal(t, Done, tr.Phase())
	res, err = f.reader.ListPolls(ctx)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
}
