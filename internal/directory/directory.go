// Package directory maintains the provider directory and implements
// candidate selection for booking dispatch.
//
// The directory is read-mostly: providers are registered at startup (from a
// CSV seed file or the store) and queried concurrently by the coordinator.
package directory

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/danelas/sms/internal/models"
)

// Directory is an ordered, concurrency-safe provider registry.
// Providers keep their registration order; candidate selection returns
// matches first-registered-first.
type Directory struct {
	mu        sync.RWMutex
	providers []models.Provider
	byPhone   map[string]struct{}
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		byPhone: make(map[string]struct{}),
	}
}

// Add registers a provider. The phone number is the provider's unique
// contact address; registering a duplicate phone is an error.
func (d *Directory) Add(p models.Provider) error {
	phone := strings.TrimSpace(p.Phone)
	if phone == "" {
		return fmt.Errorf("provider %q has no phone number", p.Name)
	}
	p.Phone = phone

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byPhone[phone]; exists {
		return fmt.Errorf("provider with phone %s already registered", phone)
	}
	d.providers = append(d.providers, p)
	d.byPhone[phone] = struct{}{}

	slog.Debug("Directory provider registered", "name", p.Name, "phone", phone)
	return nil
}

// AddAll registers a batch of providers, stopping at the first error.
func (d *Directory) AddAll(providers []models.Provider) error {
	for _, p := range providers {
		if err := d.Add(p); err != nil {
			return err
		}
	}
	return nil
}

// All returns a copy of the provider list in registration order.
func (d *Directory) All() []models.Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Provider, len(d.providers))
	copy(out, d.providers)
	return out
}

// Len returns the number of registered providers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.providers)
}

// FindProviders returns providers matching the requested location and
// service type, excluding any whose phone appears in exclude, in
// registration order. Location and service-type matching is
// case-insensitive; multi-valued service-type fields are split on commas
// and trimmed per token. An empty result is not an error.
func (d *Directory) FindProviders(location, serviceType string, exclude []string) []models.Provider {
	excluded := make(map[string]struct{}, len(exclude))
	for _, phone := range exclude {
		excluded[strings.TrimSpace(phone)] = struct{}{}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var matches []models.Provider
	for _, p := range d.providers {
		if _, skip := excluded[p.Phone]; skip {
			continue
		}
		if !p.ServesLocation(location) {
			continue
		}
		if !p.OffersService(serviceType) {
			continue
		}
		matches = append(matches, p)
	}

	slog.Debug("Directory FindProviders", "location", location, "service_type", serviceType,
		"excluded", len(exclude), "matches", len(matches))
	return matches
}
