// Package models defines the core data structures for the SMS booking service.
//
// It includes types for providers, bookings, message receipts, and inbound
// responses, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound SMS body
	MaxMessageBodyLength = 1600
	// MaxClientNameLength defines the maximum allowed length for a client display name
	MaxClientNameLength = 200
)

// Error variables for better error handling and testability
var (
	ErrEmptyClientPhone  = errors.New("client phone cannot be empty")
	ErrEmptyLocation     = errors.New("location is required")
	ErrEmptyServiceType  = errors.New("service type is required")
	ErrClientNameTooLong = errors.New("client name exceeds maximum length")
	ErrBookingNotFound   = errors.New("booking not found")
)

// Provider represents a service provider in the directory.
// Providers are loaded once at startup and treated as read-only by the
// coordinator.
type Provider struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Locations    string `json:"locations"`     // comma-separated serviced locations
	ServiceTypes string `json:"service_types"` // comma-separated offered types, e.g. "Mobile, In-Studio"
}

// ServesLocation reports whether the provider services the given location.
// Matching is case-insensitive and tolerant of surrounding whitespace.
func (p Provider) ServesLocation(location string) bool {
	return containsToken(p.Locations, location)
}

// OffersService reports whether the provider offers the given service type.
// The service-type field may hold multiple comma-separated values.
func (p Provider) OffersService(serviceType string) bool {
	return containsToken(p.ServiceTypes, serviceType)
}

// containsToken splits a comma-separated field and compares each trimmed
// token case-insensitively against want.
func containsToken(field, want string) bool {
	want = strings.TrimSpace(want)
	for _, tok := range strings.Split(field, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), want) {
			return true
		}
	}
	return false
}

// BookingState represents the lifecycle state of a booking.
type BookingState string

const (
	// BookingStatePending indicates the booking was created but no provider
	// solicitation is outstanding yet.
	BookingStatePending BookingState = "pending"
	// BookingStateAwaitingResponse indicates a solicitation is outstanding
	// for exactly one provider.
	BookingStateAwaitingResponse BookingState = "awaiting_response"
	// BookingStateConfirmed is terminal: a provider accepted.
	BookingStateConfirmed BookingState = "confirmed"
	// BookingStateExhausted is terminal: the candidate list was depleted
	// without an acceptance.
	BookingStateExhausted BookingState = "exhausted"
)

// IsTerminal reports whether the state admits no further transitions.
func (s BookingState) IsTerminal() bool {
	return s == BookingStateConfirmed || s == BookingStateExhausted
}

// IsValidBookingState checks if the given booking state is supported.
func IsValidBookingState(s BookingState) bool {
	switch s {
	case BookingStatePending, BookingStateAwaitingResponse, BookingStateConfirmed, BookingStateExhausted:
		return true
	default:
		return false
	}
}

// Booking tracks a single client request end-to-end until confirmed or
// exhausted.
type Booking struct {
	ID             string       `json:"id"`
	ClientPhone    string       `json:"client_phone"`
	ClientName     string       `json:"client_name,omitempty"`
	Location       string       `json:"location"`
	ServiceType    string       `json:"service_type"`
	State          BookingState `json:"state"`
	Contacted      []string     `json:"contacted,omitempty"` // provider phones already solicited, in dispatch order
	CurrentPhone   string       `json:"current_phone,omitempty"`
	ConfirmedPhone string       `json:"confirmed_phone,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Decision is the normalized interpretation of a provider reply.
type Decision string

const (
	// DecisionAccept means the reply normalized to an affirmative.
	DecisionAccept Decision = "yes"
	// DecisionDecline means the reply normalized to a negative.
	DecisionDecline Decision = "no"
	// DecisionUnrecognized means the reply could not be interpreted as a
	// booking decision.
	DecisionUnrecognized Decision = "unrecognized"
)

// NormalizeDecision maps raw reply text to a Decision. Matching is
// case-insensitive and ignores surrounding whitespace and trailing
// punctuation ("yes!", " NO."). Anything else is unrecognized.
func NormalizeDecision(raw string) Decision {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	cleaned = strings.TrimRight(cleaned, ".!,")
	switch cleaned {
	case "YES", "Y":
		return DecisionAccept
	case "NO", "N":
		return DecisionDecline
	default:
		return DecisionUnrecognized
	}
}

// BookingRequest represents the payload for creating a booking.
type BookingRequest struct {
	ClientPhone string `json:"client_phone"`
	ClientName  string `json:"client_name,omitempty"`
	Location    string `json:"location"`
	ServiceType string `json:"service_type"`
	BookingID   string `json:"booking_id,omitempty"` // optional caller-supplied id
}

// Validate performs field validation on a BookingRequest.
func (r *BookingRequest) Validate() error {
	if strings.TrimSpace(r.ClientPhone) == "" {
		return ErrEmptyClientPhone
	}
	if strings.TrimSpace(r.Location) == "" {
		return ErrEmptyLocation
	}
	if strings.TrimSpace(r.ServiceType) == "" {
		return ErrEmptyServiceType
	}
	if len(r.ClientName) > MaxClientNameLength {
		return ErrClientNameTooLong
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the outcome of an outbound message send.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a provider or client.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
