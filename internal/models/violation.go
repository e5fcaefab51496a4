package models

import (
	"time"

	"gorm.io/datatypes"
)

// Violation rule codes.
const (
	RuleIdleMatch      = "idle_match"
	RuleLowActivity    = "low_activity"
	RuleExternalTrades = "external_trades"
	RuleRepeatPairing  = "repeat_pairing"
	RuleSharedOrigin   = "shared_origin"
	RuleIntegrity      = "integrity"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Violation is an append-only audit record written at detection time, before
// any match status write, so the trail survives a failed-and-retried
// settlement.
type Violation struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	MatchID string `gorm:"type:uuid;not null;index"`

	Rule     string `gorm:"type:varchar(30);not null;index"`
	Severity string `gorm:"type:varchar(10);not null;index"`

	UserID *string `gorm:"type:varchar(100);index"`

	Detail         datatypes.JSON `gorm:"type:jsonb"`
	Recommendation string         `gorm:"type:varchar(200)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Violation) TableName() string {
	return "violations"
}
