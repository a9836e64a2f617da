package pda

import (
	"errors"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"voting-client/internal/outcome"
)

var testProgram = solana.MustPublicKeyFromBase58("coUnmi3oBUtwtd9fjeAvSsJssXh5A5xyPbhpewyzRVF")

func TestU64IsLittleEndian(t *testing.T) {
	require.Equal(t, Seed{42, 0, 0, 0, 0, 0, 0, 0}, U64(42))
	require.Equal(t, Seed{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, U64(0x0102030405060708))
}

func TestTextIsRaw(t *testing.T) {
	require.Equal(t, Seed("Red"), Text("Red"))
	require.Len(t, Text(""), 0)
}

func TestDeriveDeterministic(t *testing.T) {
	a, err := Derive(testProgram, U64(42))
	require.NoError(t, err)
	b, err := Derive(testProgram, U64(42))
	require.NoError(t, err)
	require.Equal(t, a, b)

	p, err := Poll(testProgram, 42)
	require.NoError(t, err)
	require.Equal(t, a, p)
}

func TestDeriveMatchesRuntimeRule(t *testing.T) {
	addr, err := Candidate(testProgram, 7, "Red")
	require.NoError(t, err)

	key, err := solana.CreateProgramAddress([][]byte{U64(7), Text("Red"), {addr.Bump}}, testProgram)
	require.NoError(t, err)
	require.Equal(t, addr.Key, key)
}

func TestDeriveSeedOrderMatters(t *testing.T) {
	forward, err := Derive(testProgram, U64(1), Text("A"))
	require.NoError(t, err)
	reverse, err := Derive(testProgram, Text("A"), U64(1))
	require.NoError(t, err)
	require.NotEqual(t, forward.Key, reverse.Key)
}

func TestDeriveDistinctInputs(t *testing.T) {
	seen := map[solana.PublicKey]uint64{}
	for id := uint64(0); id < 32; id++ {
		addr, err := Poll(testProgram, id)
		require.NoError(t, err)
		prev, dup := seen[addr.Key]
		require.False(t, dup, "poll %d collides with poll %d", id, prev)
		seen[addr.Key] = id
	}

	other := solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
	a, err := Poll(testProgram, 7)
	require.NoError(t, err)
	b, err := Poll(other, 7)
	require.NoError(t, err)
	require.NotEqual(t, a.Key, b.Key)
}

func TestDeriveValidation(t *testing.T) {
	_, err := Candidate(testProgram, 1, strings.Repeat("x", MaxSeedLen+1))
	require.ErrorIs(t, err, outcome.ErrValidation)

	seeds := make([]Seed, MaxSeeds+1)
	for i := range seeds {
		seeds[i] = U64(uint64(i))
	}
	_, err = Derive(testProgram, seeds...)
	require.ErrorIs(t, err, outcome.ErrValidation)

	_, err = Poll(solana.PublicKey{}, 1)
	require.ErrorIs(t, err, outcome.ErrValidation)

	_, err = Candidate(testProgram, 1, strings.Repeat("x", MaxSeedLen))
	require.NoError(t, err)
}

func TestDeriveExhausted(t *testing.T) {
	orig := findProgramAddress
	t.Cleanup(func() { findProgramAddress = orig })
	findProgramAddress = func([][]byte, solana.PublicKey) (solana.PublicKey, uint8, error) {
		return solana.PublicKey{}, 0, errors.New("unable to find a valid program address")
	}

	_, err := Poll(testProgram, 1)
	require.ErrorIs(t, err, outcome.ErrDerivationExhausted)
	require.Equal(t, outcome.Rejected, outcome.Classify(err))
}

func TestVoterRecordDependsOnVoter(t *testing.T) {
	alice := solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	bob := solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")
	a, err := VoterRecord(testProgram, alice, 7)
	require.NoError(t, err)
	b, err := VoterRecord(testProgram, bob, 7)
	require.NoError(t, err)
	require.NotEqual(t, a.Key, b.Key)
}
