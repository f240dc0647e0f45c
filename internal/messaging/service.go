// Package messaging provides the message delivery abstraction for the SMS
// booking service.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/danelas/sms/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize is the buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout is how long to wait before dropping an event on a full channel
	DefaultChannelTimeout = 5 * time.Second
)

// ErrServiceStopped is returned when an operation is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex matches everything that is not a digit, used for canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events for sent messages.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming messages.
	Responses() <-chan models.Response
}
