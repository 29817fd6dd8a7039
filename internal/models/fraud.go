package models

import (
	"time"

	"github.com/lib/pq"
)

// FraudFlagType classifies a recorded suspicion.
type FraudFlagType string

const (
	FraudDuplicateDevice FraudFlagType = "duplicate_device"
	FraudGPSProximity    FraudFlagType = "gps_proximity"
	FraudRapidScan       FraudFlagType = "rapid_scan"
)

// FraudFlagStatus tracks human review of a flag.
type FraudFlagStatus string

const (
	FraudPending   FraudFlagStatus = "pending"
	FraudReviewed  FraudFlagStatus = "reviewed"
	FraudDismissed FraudFlagStatus = "dismissed"
)

// FraudAutoAction records what the heuristic did on its own.
type FraudAutoAction string

const (
	AutoActionBlocked FraudAutoAction = "blocked"
	AutoActionFlagged FraudAutoAction = "flagged"
)

// FraudFlag is a suspicion requiring human review, distinct from a hard
// rejection. Blocking heuristics create flags with AutoAction blocked;
// advisory ones never alter the committed outcome and flag only.
type FraudFlag struct {
	ID                  string          `db:"id" json:"id"`
	Type                FraudFlagType   `db:"type" json:"type"`
	SessionID           string          `db:"session_id" json:"session_id"`
	SuspectedStudentIDs pq.StringArray  `db:"suspected_student_ids" json:"suspected_student_ids"`
	Status              FraudFlagStatus `db:"status" json:"status"`
	AutoAction          FraudAutoAction `db:"auto_action" json:"auto_action"`
	Notes               *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}
