// Package domain defines the core data types shared across the notify
// server, store, and event protocol layers.
package domain

import "time"

// ConnectionState values describe a client's link as observed by netwatch.
type ConnectionState string

const (
	StateUp      ConnectionState = "UP"
	StateDown    ConnectionState = "DOWN"
	StateUnknown ConnectionState = "UNKNOWN"
)

// BillingStatus values track where a client sits in the billing cycle.
type BillingStatus string

const (
	BillingPaid    BillingStatus = "PAID"
	BillingUnpaid  BillingStatus = "UNPAID"
	BillingLimited BillingStatus = "LIMITED"
	BillingCutoff  BillingStatus = "CUTOFF"
	BillingUnknown BillingStatus = "UNKNOWN"
)

// Connection name prefixes classify how a state change is fanned out: an
// ISP link outage notifies the whole group, while PRIVATE and VENDO
// connections notify the affected client plus the group admins.
const (
	PrefixISP     = "ISP"
	PrefixVendo   = "VENDO"
	PrefixPrivate = "PRIVATE"
	PrefixAdmin   = "ADMIN"
)

// Message log status values.
const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusSkipped = "skipped"
	MessageStatusFailed  = "failed"
)

// Client is a subscriber record: who they are, how to reach them on
// Messenger, and their current connectivity and billing standing.
type Client struct {
	ID             int64
	Name           string
	MessengerID    string
	GroupName      string
	ConnectionName string // links the record to a router netwatch entry
	State          ConnectionState
	Status         BillingStatus
	SpeedLimit     string
	AmtMonthly     float64
	BillingDate    *time.Time // recurring monthly due date; nil = not billed
}

// Template is a reusable notification message body. Titles encode the
// routing key, e.g. "G1-PRIVATE-DOWN" or "G2-ISP-UP".
type Template struct {
	ID      int64
	Title   string
	Content string
}

// MessageLog records one delivery attempt, successful or not.
type MessageLog struct {
	ID         int64
	ClientID   int64
	TemplateID int64
	Title      string
	Message    string
	Status     string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// APIKey represents a server-managed authentication key for dashboard
// sessions and scripts.
type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// ValidConnectionState reports whether s is one of the known states.
func ValidConnectionState(s ConnectionState) bool {
	switch s {
	case StateUp, StateDown, StateUnknown:
		return true
	}
	return false
}

// ValidBillingStatus reports whether s is one of the known statuses.
func ValidBillingStatus(s BillingStatus) bool {
	switch s {
	case BillingPaid, BillingUnpaid, BillingLimited, BillingCutoff, BillingUnknown:
		return true
	}
	return false
}
