package models

import "time"

type DatePlanStatus string

const (
	DatePlanned  DatePlanStatus = "planned"
	DateDone     DatePlanStatus = "done"
	DateCanceled DatePlanStatus = "canceled"
)

// DatePlan is a planned date night owned by a couple
type DatePlan struct {
	ID          string         `json:"id" db:"id"`
	CoupleID    string         `json:"couple_id" db:"couple_id"`
	CreatedBy   string         `json:"created_by" db:"created_by"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description,omitempty" db:"description"`
	Location    string         `json:"location,omitempty" db:"location"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Status      DatePlanStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}
