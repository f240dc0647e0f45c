// Package hubspot syncs client contacts to the HubSpot CRM and logs SMS
// communications against them. HubSpot's v3 objects API is plain JSON
// over HTTP, so the client speaks it directly.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danelas/sms/internal/models"
)

const (
	// DefaultBaseURL is the production HubSpot API endpoint.
	DefaultBaseURL = "https://api.hubapi.com"

	apiVersion     = "v3"
	requestTimeout = 10 * time.Second

	// maxCommunicationBody is HubSpot's limit on communication bodies.
	maxCommunicationBody = 5000

	// contactCommunicationAssociation is HubSpot's association type ID
	// linking a communication object to a contact.
	contactCommunicationAssociation = "198"
)

// Communication directions accepted by LogCommunication.
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// Opts holds configuration options for the HubSpot client.
type Opts struct {
	AccessToken string
	BaseURL     string
}

// Option configures HubSpot client options.
type Option func(*Opts)

// WithAccessToken sets the private-app access token.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// Client talks to the HubSpot CRM API.
type Client struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

// NewClient creates a HubSpot client. The access token falls back to the
// HUBSPOT_ACCESS_TOKEN environment variable, the base URL to
// HUBSPOT_API_BASE_URL.
func NewClient(opts ...Option) (*Client, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.AccessToken == "" {
		o.AccessToken = os.Getenv("HUBSPOT_ACCESS_TOKEN")
	}
	if o.AccessToken == "" {
		return nil, fmt.Errorf("HubSpot access token not set; set HUBSPOT_ACCESS_TOKEN or use WithAccessToken")
	}
	if o.BaseURL == "" {
		o.BaseURL = os.Getenv("HUBSPOT_API_BASE_URL")
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}

	slog.Debug("HubSpot client created", "base_url", o.BaseURL)
	return &Client{
		accessToken: o.AccessToken,
		baseURL:     o.BaseURL,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}, nil
}

// CreateOrUpdateContact upserts a contact keyed by phone number: it
// searches for an existing contact with the same phone and patches it,
// or creates a new one. It returns the HubSpot contact ID.
func (c *Client) CreateOrUpdateContact(ctx context.Context, contact models.Contact) (string, error) {
	properties := map[string]string{
		"phone":          contact.Phone,
		"hs_lead_status": "SMS_LEAD",
		"lifecyclestage": "lead",
	}
	first, last := splitName(contact.Name)
	if first != "" {
		properties["firstname"] = first
	}
	if last != "" {
		properties["lastname"] = last
	}
	if contact.Email != "" {
		properties["email"] = contact.Email
	}
	if contact.Source != "" {
		properties["hs_lead_source"] = contact.Source
	}
	if contact.LastMessage != "" {
		properties["notes_last_contacted"] = contact.LastMessage
	}
	body := map[string]any{"properties": properties}

	existingID, err := c.findContactByPhone(ctx, contact.Phone)
	if err != nil {
		return "", err
	}

	if existingID != "" {
		url := fmt.Sprintf("%s/crm/%s/objects/contacts/%s", c.baseURL, apiVersion, existingID)
		if _, err := c.doJSON(ctx, http.MethodPatch, url, body, http.StatusOK); err != nil {
			return "", fmt.Errorf("failed to update contact %s: %w", existingID, err)
		}
		slog.Debug("HubSpot contact updated", "contact_id", existingID, "phone", contact.Phone)
		return existingID, nil
	}

	url := fmt.Sprintf("%s/crm/%s/objects/contacts", c.baseURL, apiVersion)
	resp, err := c.doJSON(ctx, http.MethodPost, url, body, http.StatusCreated)
	if err != nil {
		return "", fmt.Errorf("failed to create contact: %w", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &created); err != nil {
		return "", fmt.Errorf("failed to decode created contact: %w", err)
	}
	slog.Debug("HubSpot contact created", "contact_id", created.ID, "phone", contact.Phone)
	return created.ID, nil
}

// LogCommunication records an SMS exchange against a contact. Direction
// is DirectionInbound or DirectionOutbound.
func (c *Client) LogCommunication(ctx context.Context, contactID, message, direction string) error {
	if contactID == "" {
		return fmt.Errorf("contact ID is required")
	}
	if len(message) > maxCommunicationBody {
		message = message[:maxCommunicationBody]
	}

	to, from := contactID, "SMS"
	if direction == DirectionInbound {
		to, from = "SMS", contactID
	}
	body := map[string]any{
		"properties": map[string]string{
			"hs_timestamp":               fmt.Sprintf("%d", time.Now().UnixMilli()),
			"hs_communication_type":      "SMS",
			"hs_communication_direction": direction,
			"hs_communication_body":      message,
			"hs_communication_to":        to,
			"hs_communication_from":      from,
		},
		"associations": []map[string]any{
			{
				"to": map[string]string{"id": contactID},
				"types": []map[string]string{
					{
						"associationCategory": "HUBSPOT_DEFINED",
						"associationTypeId":   contactCommunicationAssociation,
					},
				},
			},
		},
	}

	url := fmt.Sprintf("%s/crm/%s/objects/communications", c.baseURL, apiVersion)
	if _, err := c.doJSON(ctx, http.MethodPost, url, body, http.StatusCreated); err != nil {
		return fmt.Errorf("failed to log communication: %w", err)
	}
	slog.Debug("HubSpot communication logged", "contact_id", contactID, "direction", direction)
	return nil
}

// findContactByPhone returns the ID of the contact with the given phone,
// or "" when none exists.
func (c *Client) findContactByPhone(ctx context.Context, phone string) (string, error) {
	body := map[string]any{
		"filterGroups": []map[string]any{
			{
				"filters": []map[string]string{
					{"propertyName": "phone", "operator": "EQ", "value": phone},
				},
			},
		},
	}

	url := fmt.Sprintf("%s/crm/%s/objects/contacts/search", c.baseURL, apiVersion)
	resp, err := c.doJSON(ctx, http.MethodPost, url, body, http.StatusOK)
	if err != nil {
		return "", fmt.Errorf("contact search failed: %w", err)
	}

	var result struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("failed to decode search results: %w", err)
	}
	if len(result.Results) == 0 {
		return "", nil
	}
	return result.Results[0].ID, nil
}

// doJSON sends a JSON request and returns the response body, erroring on
// any status other than wantStatus.
func (c *Client) doJSON(ctx context.Context, method, url string, body any, wantStatus int) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// splitName splits a display name into HubSpot first/last name fields.
func splitName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
