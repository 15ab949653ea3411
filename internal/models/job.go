package models

import (
	"time"
)

// Booking lifecycle statuses persisted in Postgres.
const (
	StatusPending        = "pending"
	StatusAssigned       = "assigned"
	StatusStarted        = "started"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusCustomerNoShow = "customer_no_show"
)

// ClosedStatuses are the states a booking can be reopened from.
var ClosedStatuses = []string{StatusCancelled, StatusCompleted, StatusCustomerNoShow}

// Role identifies the kind of actor performing a request.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleTranslator Role = "translator"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Actor is the authenticated identity attached to a request. The identity
// provider is external; the core only consumes id and role.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Job represents a translation booking moving through its lifecycle.
type Job struct {
	ID                   string     `json:"id"`
	FromLanguageID       string     `json:"from_language_id"`
	Immediate            bool       `json:"immediate"`
	DueAt                *time.Time `json:"due_at,omitempty"`
	CustomerPhoneType    bool       `json:"customer_phone_type"`
	CustomerPhysicalType bool       `json:"customer_physical_type"`
	Duration             int        `json:"duration"`
	JobFor               []string   `json:"job_for"`
	CustomerID           string     `json:"customer_id"`
	CustomerEmail        string     `json:"customer_email,omitempty"`
	City                 string     `json:"city,omitempty"`
	TranslatorID         *string    `json:"translator_id,omitempty"`
	Status               string     `json:"status"`
	AdminComments        *string    `json:"admin_comments,omitempty"`
	Flagged              bool       `json:"flagged"`
	ManuallyHandled      bool       `json:"manually_handled"`
	ByAdmin              bool       `json:"by_admin"`
	SessionTime          *string    `json:"session_time,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
}

// Closed reports whether the job is in a state reopen accepts.
func (j Job) Closed() bool {
	for _, s := range ClosedStatuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

// Distance is the per-job telemetry record. At most one per job.
type Distance struct {
	JobID    string  `json:"job_id"`
	Distance *string `json:"distance,omitempty"`
	Time     *string `json:"time,omitempty"`
}

// Translator is the slice of a translator profile the engine needs for
// eligibility matching and notification targeting.
type Translator struct {
	ID               string   `json:"id"`
	Languages        []string `json:"languages"`
	City             string   `json:"city"`
	PhoneNumber      string   `json:"phone_number"`
	PushToken        string   `json:"push_token,omitempty"`
	NotificationsOff bool     `json:"notifications_off"`
}
