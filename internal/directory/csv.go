// Package directory provides the CSV seed loader for the provider directory.
package directory

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/danelas/sms/internal/models"
)

// Column aliases accepted in provider CSV files. Header matching is
// case-insensitive. The aliases mirror the columns of the provider
// spreadsheet the service was historically driven by.
var (
	nameColumns     = []string{"name", "provider", "provider name"}
	phoneColumns    = []string{"phone", "phone number"}
	locationColumns = []string{"locations", "location", "based in"}
	typeColumns     = []string{"type", "types", "service type", "service types"}
	inStudioColumns = []string{"in-studio", "in-studio location", "in-studio location (yes/no, address)"}
)

// LoadCSV reads a provider list from a CSV file with a header row.
// Rows missing a phone number are skipped with a warning rather than
// failing the whole load.
func LoadCSV(path string) ([]models.Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open provider CSV %s: %w", path, err)
	}
	defer f.Close()

	providers, err := parseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider CSV %s: %w", path, err)
	}
	slog.Info("Provider CSV loaded", "path", path, "providers", len(providers))
	return providers, nil
}

func parseCSV(r io.Reader) ([]models.Provider, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	nameIdx := findColumn(header, nameColumns)
	phoneIdx := findColumn(header, phoneColumns)
	locationIdx := findColumn(header, locationColumns)
	typeIdx := findColumn(header, typeColumns)
	inStudioIdx := findColumn(header, inStudioColumns)

	if phoneIdx < 0 {
		return nil, fmt.Errorf("no phone column found in header %v", header)
	}

	var providers []models.Provider
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}

		p := models.Provider{
			Name:         field(record, nameIdx),
			Phone:        field(record, phoneIdx),
			Locations:    field(record, locationIdx),
			ServiceTypes: field(record, typeIdx),
		}
		if p.Phone == "" {
			slog.Warn("Provider CSV row missing phone, skipping", "row", line, "name", p.Name)
			continue
		}

		// An in-studio column starting with "yes" adds In-Studio to the
		// offered types; providers default to Mobile when no type is listed.
		if inStudioIdx >= 0 && strings.HasPrefix(strings.ToLower(field(record, inStudioIdx)), "yes") {
			if !p.OffersService("In-Studio") {
				p.ServiceTypes = appendType(p.ServiceTypes, "In-Studio")
			}
		}
		if strings.TrimSpace(p.ServiceTypes) == "" {
			p.ServiceTypes = "Mobile"
		}

		providers = append(providers, p)
	}
	return providers, nil
}

func findColumn(header []string, aliases []string) int {
	for i, col := range header {
		normalized := strings.ToLower(strings.TrimSpace(col))
		for _, alias := range aliases {
			if normalized == alias {
				return i
			}
		}
	}
	return -1
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func appendType(existing, t string) string {
	if strings.TrimSpace(existing) == "" {
		return t
	}
	return existing + ", " + t
}
