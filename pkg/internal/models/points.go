package models

import (
	"time"

	"gorm.io/datatypes"
)

type MonitorProfile struct {
	UserID     string `json:"user_id" gorm:"primaryKey;size:36"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Occupation string `json:"occupation"`

	Points       int    `json:"points"`
	ReferralCode string `json:"referral_code" gorm:"uniqueIndex"`

	IsLineLinked bool                        `json:"is_line_linked"`
	LineUserID   string                      `json:"line_user_id"`
	PushOptIn    bool                        `json:"push_opt_in"`
	PushTokens   datatypes.JSONSlice[string] `json:"-"`
	Tags         datatypes.JSONSlice[string] `json:"tags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	PointReasonSurvey   = "survey"
	PointReasonReferral = "referral"
	PointReasonExchange = "exchange"
	PointReasonBonus    = "bonus"
)

// PointTransaction is an append-only ledger entry, never updated after insert.
type PointTransaction struct {
	BaseModel

	UserID      string    `json:"user_id" gorm:"size:36;index"`
	Amount      int       `json:"amount"`
	Reason      string    `json:"reason"`
	Description string    `json:"description"`
	SurveyID    *string   `json:"survey_id" gorm:"size:36"`
	HappenedAt  time.Time `json:"happened_at"`
}

const (
	ExchangeStatusProcessing = "processing"
	ExchangeStatusCompleted  = "completed"
	ExchangeStatusFailed     = "failed"
)

type ExchangeRequest struct {
	BaseModel

	UserID      string    `json:"user_id" gorm:"size:36;index"`
	RewardID    string    `json:"reward_id"`
	PointsUsed  int       `json:"points_used"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	ExternalID  *string   `json:"external_id"`
	RequestedAt time.Time `json:"requested_at"`
}
