package txbuilder

import (
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"voting-client/internal/outcome"
	"voting-client/internal/pda"
	"voting-client/internal/program"
)

var (
	testProgram = program.DefaultID
	testSigner  = solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	testStart   = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
)

func mustDerive(addr pda.Address, err error) solana.PublicKey {
	if err != nil {
		panic(err)
	}
	return addr.Key
}

func pollIx(t *testing.T) InitializePoll {
	return InitializePoll{
		Accounts: InitializePollAccounts{
			Signer:        testSigner,
			Poll:          mustDerive(pda.Poll(testProgram, 7)),
			SystemProgram: solana.SystemProgramID,
		},
		PollID:      7,
		Description: "Best Color",
		Start:       testStart,
		End:         testStart.Add(24 * time.Hour),
	}
}

func voteIx(t *testing.T) Vote {
	return Vote{
		Accounts: VoteAccounts{
			Signer:        testSigner,
			Poll:          mustDerive(pda.Poll(testProgram, 7)),
			Candidate:     mustDerive(pda.Candidate(testProgram, 7, "Red")),
			VoterRecord:   mustDerive(pda.VoterRecord(testProgram, testSigner, 7)),
			SystemProgram: solana.SystemProgramID,
		},
		PollID:        7,
		CandidateName: "Red",
	}
}

func TestBuildInitializePoll(t *testing.T) {
	b := New(testProgram)
	u, err := b.Build(pollIx(t), testSigner)
	require.NoError(t, err)
	require.Equal(t, program.InitializePoll, u.Operation)
	require.Equal(t, testProgram, u.Instruction.ProgramID())

	metas := u.Instruction.Accounts()
	require.Len(t, metas, 3)
	require.Equal(t, testSigner, metas[0].PublicKey)
	require.True(t, metas[0].IsSigner)
	require.True(t, metas[0].IsWritable)
	require.True(t, metas[1].IsWritable)
	require.False(t, metas[1].IsSigner)
	require.Equal(t, solana.SystemProgramID, metas[2].PublicKey)
	require.False(t, metas[2].IsWritable)

	data, err := u.Instruction.Data()
	require.NoError(t, err)
	name, dec, err := program.DecodeInstruction(data)
	require.NoError(t, err)
	require.Equal(t, program.InitializePoll, name)
	args, err := program.DecodeInitializePollArgs(dec)
	require.NoError(t, err)
	require.Equal(t, uint64(testStart.Unix()), args.PollStart)
	require.Equal(t, uint64(testStart.Add(24*time.Hour).Unix()), args.PollEnd)

	tx, err := u.Transaction(solana.Hash{9})
	require.NoError(t, err)
	require.Equal(t, testSigner, tx.Message.AccountKeys[0])
	require.Empty(t, tx.Signatures)
}

func TestBuildVoteAccountOrder(t *testing.T) {
	u, err := New(testProgram).Build(voteIx(t), testSigner)
	require.NoError(t, err)

	roles := Roles(program.Vote)
	require.Equal(t, []Role{RoleSigner, RolePoll, RoleCandidate, RoleVoterRecord, RoleSystemProgram}, roles)
	metas := u.Instruction.Accounts()
	for i, role := range roles {
		require.Equal(t, u.Accounts[role], metas[i].PublicKey, role)
	}
}

func TestBuildMissingRole(t *testing.T) {
	ix := voteIx(t)
	ix.Accounts.VoterRecord = solana.PublicKey{}

	_, err := New(testProgram).Build(ix, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)
	require.Contains(t, err.Error(), "voter_record")
}

func TestBuildWrongSystemProgram(t *testing.T) {
	ix := pollIx(t)
	ix.Accounts.SystemProgram = testSigner

	_, err := New(testProgram).Build(ix, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)
}

func TestBuildMismatchedDerivedAddress(t *testing.T) {
	ix := pollIx(t)
	ix.Accounts.Poll = mustDerive(pda.Poll(testProgram, 8))

	_, err := New(testProgram).Build(ix, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)
	require.Contains(t, err.Error(), "does not match its seeds")
}

func TestBuildVoterRecordBelongsToSigner(t *testing.T) {
	other := solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")
	ix := voteIx(t)
	ix.Accounts.VoterRecord = mustDerive(pda.VoterRecord(testProgram, other, 7))

	_, err := New(testProgram).Build(ix, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)
}

func TestBuildPayerMustSign(t *testing.T) {
	other := solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")
	_, err := New(testProgram).Build(pollIx(t), other)
	require.ErrorIs(t, err, outcome.ErrValidation)
}

func TestBuildArgumentLimits(t *testing.T) {
	b := New(testProgram)

	ix := pollIx(t)
	ix.Description = strings.Repeat("d", program.MaxDescriptionLen+1)
	_, err := b.Build(ix, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)

	ix = pollIx(t)
	ix.End = ix.Start
	_, err = b.Build(ix, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)

	ix = pollIx(t)
	ix.End = time.Unix(program.MaxTimestamp+1, 0)
	_, err = b.Build(ix, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)

	cand := InitializeCandidate{
		Accounts: CandidateAccounts{
			Signer:        testSigner,
			Poll:          mustDerive(pda.Poll(testProgram, 7)),
			Candidate:     mustDerive(pda.Candidate(testProgram, 7, "")),
			SystemProgram: solana.SystemProgramID,
		},
		PollID: 7,
	}
	_, err = b.Build(cand, testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)
}

func TestBuildEmptyProgram(t *testing.T) {
	_, err := New(solana.PublicKey{}).Build(pollIx(t), testSigner)
	require.ErrorIs(t, err, outcome.ErrValidation)
}
