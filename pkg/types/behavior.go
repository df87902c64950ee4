package types

import (
	"strings"
	"time"
)

// ReferralStatus tracks a care referral through its life.
type ReferralStatus string

// Referral statuses.
const (
	ReferralPending   ReferralStatus = "pending"
	ReferralCompleted ReferralStatus = "completed"
	ReferralCancelled ReferralStatus = "cancelled"
)

// ValidReferralStatuses contains all referral status values.
var ValidReferralStatuses = []ReferralStatus{
	ReferralPending,
	ReferralCompleted,
	ReferralCancelled,
}

// IsValidReferralStatus checks whether the value is a known status.
func IsValidReferralStatus(s ReferralStatus) bool {
	for _, v := range ValidReferralStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// GoalStatus tracks a personal goal through its life.
type GoalStatus string

// Goal statuses.
const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// DailyAction is one scheduled self-care action for an actor, read by
// the scoring engine; the surrounding service layer owns its CRUD.
type DailyAction struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id"`
	Kind        string    `json:"kind"` // e.g. "medication", "exercise", "checkin"
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsMedication reports whether the action counts toward medication
// adherence.
func (a *DailyAction) IsMedication() bool {
	k := strings.ToLower(strings.TrimSpace(a.Kind))
	return k == "medication" || k == "meds" || strings.HasPrefix(k, "medication")
}

// Referral is a hand-off to an external care resource.
type Referral struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Category  string         `json:"category"` // e.g. "housing", "food", "counseling"
	Status    ReferralStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Goal is a longer-horizon objective the actor is working toward.
type Goal struct {
	ID        string     `json:"id"`
	ActorID   string     `json:"actor_id"`
	Title     string     `json:"title,omitempty"`
	Status    GoalStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// FeedEvent is one interaction with the community feed (post, comment,
// reaction), counted as social engagement evidence.
type FeedEvent struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
