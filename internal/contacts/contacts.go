// ABOUTME: Contact directory abstraction with CSV-backed and static implementations.
// ABOUTME: Used to resolve names and sibling identifiers for inbound contacts.

// Package contacts resolves inbound identifiers (email addresses, phone
// numbers) to known contact records. The directory is a read-only
// collaborator; CRM writes happen outside this system.
package contacts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrContactNotFound is returned when no record matches an identifier.
var ErrContactNotFound = errors.New("contact not found")

// Contact is a directory record. Email and Phone may both be set, which
// lets a phone session and an email session resolve to the same person.
type Contact struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// Identifiers returns the contact's non-empty lookup keys.
func (c *Contact) Identifiers() []string {
	var out []string
	if c.Email != "" {
		out = append(out, c.Email)
	}
	if c.Phone != "" {
		out = append(out, c.Phone)
	}
	return out
}

// Directory looks up contacts by identifier.
type Directory interface {
	// FindByIdentifier matches either the email or the phone column and
	// returns ErrContactNotFound on a miss.
	FindByIdentifier(ctx context.Context, identifier string) (*Contact, error)

	// List returns all contacts, optionally filtered by classification.
	List(ctx context.Context, classification string) ([]*Contact, error)
}

// StaticDirectory serves a fixed contact list from memory.
type StaticDirectory struct {
	contacts []*Contact
}

// NewStaticDirectory creates a directory over the given records.
func NewStaticDirectory(contacts ...*Contact) *StaticDirectory {
	return &StaticDirectory{contacts: contacts}
}

func (d *StaticDirectory) FindByIdentifier(_ context.Context, identifier string) (*Contact, error) {
	return findIn(d.contacts, identifier)
}

func (d *StaticDirectory) List(_ context.Context, classification string) ([]*Contact, error) {
	return listFrom(d.contacts, classification), nil
}

// CSVDirectory serves contacts loaded from a CSV file with a header row
// of id,name,email,phone,classification. The file is read once at
// construction.
type CSVDirectory struct {
	contacts []*Contact
	logger   *slog.Logger
}

// NewCSVDirectory loads the contact file at path.
func NewCSVDirectory(path string) (*CSVDirectory, error) {
	logger := slog.Default().With("component", "contacts")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening contact file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading contact file: %w", err)
	}
	if len(rows) == 0 {
		return &CSVDirectory{logger: logger}, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var contacts []*Contact
	for _, row := range rows[1:] {
		c := &Contact{
			ID:             field(row, "id"),
			Name:           field(row, "name"),
			Email:          field(row, "email"),
			Phone:          field(row, "phone"),
			Classification: field(row, "classification"),
		}
		if c.Email == "" && c.Phone == "" {
			continue
		}
		contacts = append(contacts, c)
	}

	logger.Info("loaded contact directory", "path", path, "contacts", len(contacts))
	return &CSVDirectory{contacts: contacts, logger: logger}, nil
}

func (d *CSVDirectory) FindByIdentifier(_ context.Context, identifier string) (*Contact, error) {
	return findIn(d.contacts, identifier)
}

func (d *CSVDirectory) List(_ context.Context, classification string) ([]*Contact, error) {
	return listFrom(d.contacts, classification), nil
}

func findIn(contacts []*Contact, identifier string) (*Contact, error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	if needle == "" {
		return nil, ErrContactNotFound
	}
	for _, c := range contacts {
		if strings.EqualFold(c.Email, needle) || c.Phone == identifier {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrContactNotFound
}

func listFrom(contacts []*Contact, classification string) []*Contact {
	var out []*Contact
	for _, c := range contacts {
		if classification != "" && !strings.EqualFold(c.Classification, classification) {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out
}
