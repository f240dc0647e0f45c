// Package models defines CRM contact types shared by the store and the
// HubSpot sync layer.
package models

import "time"

// ContactSyncStatus tracks whether a contact has been pushed to the CRM.
type ContactSyncStatus string

const (
	// ContactSyncPending indicates the contact has not been synced yet.
	ContactSyncPending ContactSyncStatus = "pending"
	// ContactSyncDone indicates the contact was synced successfully.
	ContactSyncDone ContactSyncStatus = "done"
	// ContactSyncFailed indicates the last sync attempt failed and will be retried.
	ContactSyncFailed ContactSyncStatus = "failed"
)

// Contact is a locally cached CRM contact, keyed by phone number.
type Contact struct {
	ID          string            `json:"id"`
	Phone       string            `json:"phone"`
	Name        string            `json:"name,omitempty"`
	Email       string            `json:"email,omitempty"`
	Source      string            `json:"source,omitempty"` // e.g. "booking", "sms", "form"
	LastMessage string            `json:"last_message,omitempty"`
	SyncStatus  ContactSyncStatus `json:"sync_status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
