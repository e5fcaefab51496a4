package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Match statuses. A match has exactly one terminal status; once terminal it is
// never written again except by manual remediation.
const (
	MatchStatusPending   = "pending"
	MatchStatusLive      = "live"
	MatchStatusFinished  = "finished"
	MatchStatusNoContest = "no_contest"
	MatchStatusCancelled = "cancelled"
)

// Match is one timed 1v1 competition instance ("fight").
type Match struct {
	ID string `gorm:"type:uuid;primaryKey"`

	CreatorUserID  string  `gorm:"type:varchar(100);not null;index"`
	OpponentUserID *string `gorm:"type:varchar(100);index"`

	Stake    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Duration time.Duration   `gorm:"type:bigint;not null"`

	Status string `gorm:"type:varchar(20);not null;default:'pending';index"`

	StartedAt *time.Time `gorm:"type:timestamptz;index"`
	EndedAt   *time.Time `gorm:"type:timestamptz"`
	SettledAt *time.Time `gorm:"type:timestamptz"`

	WinnerUserID *string `gorm:"type:varchar(100)"`
	IsDraw       bool    `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Match) TableName() string {
	return "matches"
}

// Terminal reports whether the match has reached a final status.
func (m Match) Terminal() bool {
	switch m.Status {
	case MatchStatusFinished, MatchStatusNoContest, MatchStatusCancelled:
		return true
	}
	return false
}

// WindowEnd returns the instant the trading window closes. Zero if the match
// never went live.
func (m Match) WindowEnd() time.Time {
	if m.StartedAt == nil {
		return time.Time{}
	}
	return m.StartedAt.Add(m.Duration)
}
