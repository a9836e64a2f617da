// Package models defines the database models of the voting client journal.
package models

import "time"

// MutationRecord stores one finished mutation attempt and its terminal outcome.
type MutationRecord struct {
	ID         uint      `gorm:"primaryKey"`
	AttemptID  string    `gorm:"size:36;uniqueIndex;not null"`
	Cluster    string    `gorm:"size:64;index"`
	Operation  string    `gorm:"size:32;index"`
	Payer      string    `gorm:"size:64;index"`
	Outcome    string    `gorm:"size:16;index"` // "confirmed", "rejected" or "indeterminate"
	Signature  string    `gorm:"size:128;index"` // empty when nothing was sent
	Error      string    `gorm:"size:1024"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
