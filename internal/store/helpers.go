package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/danelas/sms/internal/models"
)

// scanBookingRow scans a Booking from a single sql.Row.
func scanBookingRow(row *sql.Row) (*models.Booking, error) {
	var b models.Booking
	var clientName, contactedJSON, currentPhone, confirmedPhone sql.NullString
	err := row.Scan(
		&b.ID, &b.ClientPhone, &clientName, &b.Location, &b.ServiceType, &b.State,
		&contactedJSON, &currentPhone, &confirmedPhone, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ClientName = clientName.String
	b.CurrentPhone = currentPhone.String
	b.ConfirmedPhone = confirmedPhone.String
	b.Contacted = unmarshalContacted(contactedJSON.String, b.ID)
	return &b, nil
}

// scanBookings scans all Bookings from sql.Rows.
func scanBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		var clientName, contactedJSON, currentPhone, confirmedPhone sql.NullString
		err := rows.Scan(
			&b.ID, &b.ClientPhone, &clientName, &b.Location, &b.ServiceType, &b.State,
			&contactedJSON, &currentPhone, &confirmedPhone, &b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan booking failed: %w", err)
		}
		b.ClientName = clientName.String
		b.CurrentPhone = currentPhone.String
		b.ConfirmedPhone = confirmedPhone.String
		b.Contacted = unmarshalContacted(contactedJSON.String, b.ID)
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// scanContactRow scans a Contact from a single sql.Row.
func scanContactRow(row *sql.Row) (*models.Contact, error) {
	var c models.Contact
	var name, email, source, lastMessage sql.NullString
	err := row.Scan(&c.Phone, &c.ID, &name, &email, &source, &lastMessage, &c.SyncStatus, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Name = name.String
	c.Email = email.String
	c.Source = source.String
	c.LastMessage = lastMessage.String
	return &c, nil
}

// scanContacts scans all Contacts from sql.Rows.
func scanContacts(rows *sql.Rows) ([]models.Contact, error) {
	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		var name, email, source, lastMessage sql.NullString
		err := rows.Scan(&c.Phone, &c.ID, &name, &email, &source, &lastMessage, &c.SyncStatus, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan contact failed: %w", err)
		}
		c.Name = name.String
		c.Email = email.String
		c.Source = source.String
		c.LastMessage = lastMessage.String
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// unmarshalContacted deserializes a stored contacted list; corrupt data
// degrades to an empty list rather than failing the read.
func unmarshalContacted(data, bookingID string) []string {
	if data == "" {
		return nil
	}
	var contacted []string
	if err := json.Unmarshal([]byte(data), &contacted); err != nil {
		slog.Error("failed to unmarshal contacted list, using empty", "error", err, "bookingID", bookingID)
		return nil
	}
	return contacted
}
