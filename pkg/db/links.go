package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urmzd/ambisense/pkg/device"
)

var (
	ErrLinkNotFound = errors.New("device link not found")
	// ErrLinkExists mirrors the config flow abort for an already configured host.
	ErrLinkExists = errors.New("device link already configured")
)

// DeviceLink is a persisted AmbiSense config entry.
type DeviceLink struct {
	ID           string
	ProfileID    int64
	Name         string
	Host         string
	Manufacturer string
	Model        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Link converts the entry into the runtime link descriptor.
func (l *DeviceLink) Link() device.Link {
	out := device.Link{
		ID:           l.ID,
		Name:         l.Name,
		Host:         l.Host,
		Protocol:     device.ProtocolWiFi,
		Manufacturer: l.Manufacturer,
		Model:        l.Model,
		CreatedAt:    l.CreatedAt,
	}
	if out.Manufacturer == "" {
		out.Manufacturer = device.Manufacturer
	}
	if out.Model == "" {
		out.Model = device.Model
	}
	return out
}

// LinkStore provides device link CRUD operations.
type LinkStore interface {
	Get(ctx context.Context, id string) (*DeviceLink, error)
	GetByHost(ctx context.Context, profileID int64, host string) (*DeviceLink, error)
	List(ctx context.Context, profileID int64) ([]*DeviceLink, error)
	Create(ctx context.Context, l *DeviceLink) error
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
}

// Links returns a LinkStore for this database.
func (db *DB) Links() LinkStore {
	return &linkStore{db: db}
}

type linkStore struct {
	db *DB
}

const linkColumns = `id, profile_id, name, host, manufacturer, model, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*DeviceLink, error) {
	l := &DeviceLink{}
	var createdAt, updatedAt string
	if err := row.Scan(&l.ID, &l.ProfileID, &l.Name, &l.Host, &l.Manufacturer, &l.Model, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	l.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return l, nil
}

func (s *linkStore) Get(ctx context.Context, id string) (*DeviceLink, error) {
	l, err := scanLink(s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM device_links WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

func (s *linkStore) GetByHost(ctx context.Context, profileID int64, host string) (*DeviceLink, error) {
	l, err := scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM device_links WHERE profile_id = ? AND host = ?`,
		profileID, strings.TrimSpace(host)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

func (s *linkStore) List(ctx context.Context, profileID int64) ([]*DeviceLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM device_links WHERE profile_id = ? ORDER BY name, id`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var links []*DeviceLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Create stores l, assigning a new uuid when l.ID is empty. A host already
// configured in the same profile fails with ErrLinkExists.
func (s *linkStore) Create(ctx context.Context, l *DeviceLink) error {
	l.Host = strings.TrimSpace(l.Host)
	if l.Host == "" {
		return fmt.Errorf("failed to create device link: host is required")
	}
	if l.Name == "" {
		l.Name = device.DefaultName
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	if _, err := s.GetByHost(ctx, l.ProfileID, l.Host); err == nil {
		return fmt.Errorf("%w: %s", ErrLinkExists, l.Host)
	} else if !errors.Is(err, ErrLinkNotFound) {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_links (id, profile_id, name, host, manufacturer, model)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.ProfileID, l.Name, l.Host, l.Manufacturer, l.Model)
	if err != nil {
		return fmt.Errorf("failed to create device link: %w", err)
	}

	created, err := s.Get(ctx, l.ID)
	if err != nil {
		return err
	}
	*l = *created
	return nil
}

func (s *linkStore) Rename(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE device_links SET name = ?, updated_at = datetime('now') WHERE id = ?
	`, name, id)
	if err != nil {
		return err
	}
	return expectOne(result, ErrLinkNotFound)
}

func (s *linkStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM device_links WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(result, ErrLinkNotFound)
}

func expectOne(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
