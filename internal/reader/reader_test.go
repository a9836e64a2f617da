package reader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"voting-client/internal/cache"
	"voting-client/internal/ledger"
	"voting-client/internal/ledger/ledgertest"
	"voting-client/internal/outcome"
	"voting-client/internal/pda"
	"voting-client/internal/program"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var progID = program.DefaultID

func setup(t *testing.T, opts ...ledgertest.Option) (*Reader, *ledgertest.Ledger) {
	t.Helper()
	l := ledgertest.New(progID, opts...)
	store := cache.New()
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return New(store, "localnet", progID, l, nil), l
}

func putPoll(t *testing.T, l *ledgertest.Ledger, id uint64, desc string) solana.PublicKey {
	t.Helper()
	addr, err := pda.Poll(progID, id)
	require.NoError(t, err)
	data, err := program.EncodePoll(program.Poll{
		PollID:      id,
		Description: desc,
		Start:       time.Unix(1_700_000_000, 0),
		End:         time.Unix(1_800_000_000, 0),
	})
	require.NoError(t, err)
	l.Put(addr.Key, progID, data)
	return addr.Key
}

func putCandidate(t *testing.T, l *ledgertest.Ledger, pollID uint64, name string, votes uint64) solana.PublicKey {
	t.Helper()
	addr, err := pda.Candidate(progID, pollID, name)
	require.NoError(t, err)
	data, err := program.EncodeCandidate(program.Candidate{Name: name, Votes: votes})
	require.NoError(t, err)
	l.Put(addr.Key, progID, data)
	return addr.Key
}

func TestListPolls(t *testing.T) {
	r, l := setup(t)
	putPoll(t, l, 9, "second")
	putPoll(t, l, 7, "Best Color")
	putCandidate(t, l, 7, "Red", 0)

	res, err := r.ListPolls(context.Background())
	require.NoError(t, err)
	require.Equal(t, cache.Ready, res.State)
	require.Len(t, res.Data, 2)
	require.Equal(t, uint64(7), res.Data[0].PollID)
	require.Equal(t, "Best Color", res.Data[0].Description)
	require.Equal(t, uint64(9), res.Data[1].PollID)
}

func TestListPollsEmpty(t *testing.T) {
	r, _ := setup(t)
	res, err := r.ListPolls(context.Background())
	require.NoError(t, err)
	require.Equal(t, cache.Ready, res.State)
	require.Empty(t, res.Data)
}

func TestListSkipsUndecodableAccounts(t *testing.T) {
	r, l := setup(t)
	putCandidate(t, l, 7, "Red", 3)
	junk := solana.NewWallet().PublicKey()
	l.Put(junk, progID, append(program.CandidateDiscriminator[:], 0xff))

	res, err := r.ListCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	require.Equal(t, "Red", res.Data[0].Name)
	require.Equal(t, uint64(3), res.Data[0].Votes)
}

func TestListIsCached(t *testing.T) {
	r, l := setup(t)
	putPoll(t, l, 1, "a")

	_, err := r.ListPolls(context.Background())
	require.NoError(t, err)
	_, err = r.ListPolls(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, l.Reads("ProgramAccounts"))

	_, err = r.RefetchPolls(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, l.Reads("ProgramAccounts"))
}

func TestConcurrentListsShareOneRead(t *testing.T) {
	r, l := setup(t)
	putPoll(t, l, 1, "a")
	release := make(chan struct{})
	l.SetReadHook(func(ctx context.Context, _ string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.ListPolls(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool {
		snap, ok := r.store.Peek(r.PollsKey())
		return ok && snap.Fetching
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, l.Reads("ProgramAccounts"))
}

func TestGetPoll(t *testing.T) {
	r, l := setup(t)
	addr := putPoll(t, l, 7, "Best Color")

	res, err := r.GetPoll(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, addr, res.Data.Address)
	require.Equal(t, uint64(7), res.Data.PollID)
}

func TestGetPollMissing(t *testing.T) {
	r, _ := setup(t)
	addr, err := pda.Poll(progID, 404)
	require.NoError(t, err)

	res, err := r.GetPoll(context.Background(), addr.Key)
	require.ErrorIs(t, err, outcome.ErrReadFailure)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	require.Equal(t, cache.Failed, res.State)
}

func TestGetCandidateWrongOwner(t *testing.T) {
	r, l := setup(t)
	addr := solana.NewWallet().PublicKey()
	data, err := program.EncodeCandidate(program.Candidate{Name: "Red"})
	require.NoError(t, err)
	l.Put(addr, solana.SystemProgramID, data)

	_, err = r.GetCandidate(context.Background(), addr)
	require.ErrorIs(t, err, outcome.ErrReadFailure)
}

func TestReadFailureIsWrapped(t *testing.T) {
	r, l := setup(t)
	boom := errors.New("connection refused")
	l.SetReadHook(func(context.Context, string) error { return boom })

	res, err := r.ListCandidates(context.Background())
	require.ErrorIs(t, err, outcome.ErrReadFailure)
	require.ErrorIs(t, err, boom)
	require.Equal(t, cache.Failed, res.State)
	require.ErrorIs(t, res.Err, outcome.ErrReadFailure)
}

func TestProgramDeployed(t *testing.T) {
	r, _ := setup(t)
	res, err := r.ProgramDeployed(context.Background())
	require.NoError(t, err)
	require.True(t, res.Data)

	r, _ = setup(t, ledgertest.Undeployed())
	res, err = r.ProgramDeployed(context.Background())
	require.NoError(t, err)
	require.Equal(t, cache.Ready, res.State)
	require.False(t, res.Data)
}

func TestKeysAreScopedByClusterAndAddress(t *testing.T) {
	r, _ := setup(t)
	a, err := pda.Poll(progID, 1)
	require.NoError(t, err)
	b, err := pda.Poll(progID, 2)
	require.NoError(t, err)

	require.NotEqual(t, r.PollKey(a.Key), r.PollKey(b.Key))
	require.Equal(t, "localnet", r.PollsKey().Cluster)
	require.NotEqual(t, r.PollsKey(), r.CandidatesKey())
}

func TestDecodeWrongType(t *testing.T) {
	res := Decode[[]program.Poll](cache.Snapshot{State: cache.Ready, Value: "nope"})
	require.Nil(t, res.Data)
	require.False(t, res.Loading())
}
