package db

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"voting-client/internal/models"
	"voting-client/internal/mutation"
	"voting-client/internal/program"
)

// maxErrorLen bounds the stored error text in bytes.
const maxErrorLen = 1024

// Journal writes mutation attempts and observed accounts to the database.
// A nil *Journal discards everything.
type Journal struct {
	db *gorm.DB
}

var _ mutation.Recorder = (*Journal)(nil)

// NewJournal returns a journal on db, or nil when db is nil.
func NewJournal(db *gorm.DB) *Journal {
	if db == nil {
		return nil
	}
	return &Journal{db: db}
}

// Record stores a finished mutation attempt.
func (j *Journal) Record(ctx context.Context, a mutation.Attempt) error {
	if j == nil {
		return nil
	}
	rec := mutationRecord(a)
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// SavePolls upserts the observed state of polls on cluster.
func (j *Journal) SavePolls(ctx context.Context, cluster string, polls []program.Poll, at time.Time) error {
	if j == nil || len(polls) == 0 {
		return nil
	}
	rows := make([]models.PollSnapshot, len(polls))
	for i, p := range polls {
		rows[i] = pollSnapshot(cluster, p, at)
	}
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cluster"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "candidate_amount", "total_votes", "observed_at", "updated_at"}),
	}).Create(&rows).Error
}

// SaveCandidates upserts the observed vote counts of candidates on cluster.
func (j *Journal) SaveCandidates(ctx context.Context, cluster string, cands []program.Candidate, at time.Time) error {
	if j == nil || len(cands) == 0 {
		return nil
	}
	rows := make([]models.CandidateTally, len(cands))
	for i, c := range cands {
		rows[i] = candidateTally(cluster, c, at)
	}
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cluster"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"votes", "observed_at", "updated_at"}),
	}).Create(&rows).Error
}

func mutationRecord(a mutation.Attempt) models.MutationRecord {
	out := a.Outcome
	rec := models.MutationRecord{
		AttemptID:  a.ID.String(),
		Cluster:    a.Cluster,
		Operation:  out.Operation,
		Outcome:    out.Kind.String(),
		Error:      out.Message(),
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
	}
	if !a.Payer.IsZero() {
		rec.Payer = a.Payer.String()
	}
	if out.Signature != (solana.Signature{}) {
		rec.Signature = out.Signature.String()
	}
	rec.Error = truncate(rec.Error, maxErrorLen)
	return rec
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func pollSnapshot(cluster string, p program.Poll, at time.Time) models.PollSnapshot {
	return models.PollSnapshot{
		Cluster:         cluster,
		Address:         p.Address.String(),
		PollID:          p.PollID,
		Description:     p.Description,
		StartsAt:        p.Start,
		EndsAt:          p.End,
		CandidateAmount: p.CandidateAmount,
		TotalVotes:      p.TotalVotes,
		ObservedAt:      at,
	}
}

func candidateTally(cluster string, c program.Candidate, at time.Time) models.CandidateTally {
	return models.CandidateTally{
		Cluster:    cluster,
		Address:    c.Address.String(),
		Name:       c.Name,
		Votes:      c.Votes,
		ObservedAt: at,
	}
}
