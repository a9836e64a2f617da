package models

import "time"

// PollSnapshot is the last observed state of a poll account.
type PollSnapshot struct {
	ID              uint   `gorm:"primaryKey"`
	Cluster         string `gorm:"size:64;index:ux_poll_cluster_address,unique"`
	Address         string `gorm:"size:64;index:ux_poll_cluster_address,unique"`
	PollID          uint64 `gorm:"index"`
	Description     string `gorm:"size:256"`
	StartsAt        time.Time
	EndsAt          time.Time
	CandidateAmount uint64
	TotalVotes      uint64
	ObservedAt      time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CandidateTally is the last observed vote count of a candidate account.
type CandidateTally struct {
	ID         uint      `gorm:"primaryKey"`
	Cluster    string    `gorm:"size:64;index:ux_candidate_cluster_address,unique"`
	Address    string    `gorm:"size:64;index:ux_candidate_cluster_address,unique"`
	Name       string    `gorm:"size:64;index"`
	Votes      uint64
	ObservedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
