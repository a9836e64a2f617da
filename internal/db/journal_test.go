package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"voting-client/internal/config"
	"voting-client/internal/mutation"
	"voting-client/internal/outcome"
	"voting-client/internal/program"
)

func TestOpenWithoutDatabase(t *testing.T) {
	db, err := Open(config.Config{})
	require.NoError(t, err)
	require.Nil(t, db)
	require.NoError(t, AutoMigrate(nil))
	require.Nil(t, NewJournal(nil))

	_, err = Open(config.Config{DBDialect: "mysql", DBDsn: "db/votes"})
	require.Error(t, err)
}

func TestNilJournalDiscards(t *testing.T) {
	var j *Journal
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, mutation.Attempt{}))
	require.NoError(t, j.SavePolls(ctx, "devnet", []program.Poll{{PollID: 1}}, time.Now()))
	require.NoError(t, j.SaveCandidates(ctx, "devnet", []program.Candidate{{Name: "Red"}}, time.Now()))
}

func TestMutationRecord(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	id := uuid.New()
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	rec := mutationRecord(mutation.Attempt{
		ID:         id,
		Cluster:    "devnet",
		Payer:      payer,
		Outcome:    outcome.Failed(program.Vote, solana.Signature{}, errors.Join(outcome.ErrSubmissionRejected, errors.New("AlreadyVoted"))),
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	})
	require.Equal(t, id.String(), rec.AttemptID)
	require.Equal(t, "vote", rec.Operation)
	require.Equal(t, "rejected", rec.Outcome)
	require.Equal(t, payer.String(), rec.Payer)
	require.Empty(t, rec.Signature)
	require.Contains(t, rec.Error, "AlreadyVoted")
}

func TestSnapshots(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	at := time.Now()
	p := pollSnapshot("devnet", program.Poll{Address: addr, PollID: 7, Description: "Best Color", TotalVotes: 4}, at)
	require.Equal(t, addr.String(), p.Address)
	require.Equal(t, uint64(7), p.PollID)
	require.Equal(t, uint64(4), p.TotalVotes)

	c := candidateTally("devnet", program.Candidate{Address: addr, Name: "Red", Votes: 3}, at)
	require.Equal(t, "Red", c.Name)
	require.Equal(t, uint64(3), c.Votes)
	require.Equal(t, at, c.ObservedAt)
}

func TestMutationRecordKeepsValidUTF8(t *testing.T) {
	rec := mutationRecord(mutation.Attempt{
		ID:      uuid.New(),
		Outcome: outcome.Failed(program.Vote, solana.Signature{}, errors.New(strings.Repeat("é", 600))),
	})
	require.True(t, utf8.ValidString(rec.Error))
	require.LessOrEqual(t, len(rec.Error), maxErrorLen)
	require.Greater(t, len(rec.Error), maxErrorLen-utf8.UTFMax)

	require.Equal(t, "abc", truncate("abc", 3))
	require.Equal(t, "a", truncate("aé", 2))
}

// dryRun returns a postgres session that renders statements without a server
// and the SQL of every create it was asked to run.
func dryRun(t *testing.T) (*gorm.DB, *[]string) {
	t.Helper()
	gdb, err := gorm.Open(postgres.Open("host=localhost user=voter dbname=votes"), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	var sqls []string
	err = gdb.Callback().Create().After("gorm:create").Register("test:capture", func(tx *gorm.DB) {
		sqls = append(sqls, tx.Statement.SQL.String())
	})
	require.NoError(t, err)
	return gdb, &sqls
}

func TestJournalStatements(t *testing.T) {
	gdb, sqls := dryRun(t)
	j := NewJournal(gdb)
	ctx := context.Background()
	at := time.Now()
	addr := solana.NewWallet().PublicKey()

	require.NoError(t, j.SavePolls(ctx, "devnet", []program.Poll{{Address: addr, PollID: 7, Description: "Best Color"}}, at))
	require.NoError(t, j.SaveCandidates(ctx, "devnet", []program.Candidate{{Address: addr, Name: "Red", Votes: 1}}, at))
	require.NoError(t, j.Record(ctx, mutation.Attempt{
		ID:      uuid.New(),
		Cluster: "devnet",
		Outcome: outcome.Failed(program.Vote, solana.Signature{}, errors.New("AlreadyVoted")),
	}))
	require.Len(t, *sqls, 3)

	polls, tallies, records := (*sqls)[0], (*sqls)[1], (*sqls)[2]
	require.Contains(t, polls, `INSERT INTO "poll_snapshots"`)
	require.Contains(t, polls, `ON CONFLICT ("cluster","address") DO UPDATE`)
	require.Contains(t, polls, `"excluded"."total_votes"`)

	require.Contains(t, tallies, `INSERT INTO "candidate_tallies"`)
	require.Contains(t, tallies, "ON CONFLICT")
	require.Contains(t, tallies, `"excluded"."votes"`)
	require.NotContains(t, tallies, `"excluded"."name"`)

	require.Contains(t, records, "INSERT INTO")
	require.Contains(t, records, "ON CONFLICT DO NOTHING")
}
