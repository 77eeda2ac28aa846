package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/urmzd/ambisense/pkg/device"
)

// ProfileLinks stores the links of one profile, translating store errors to
// the device sentinels the API maps to status codes.
type ProfileLinks struct {
	db        *DB
	profileID int64
}

// ProfileLinks returns the link registry of profileID.
func (db *DB) ProfileLinks(profileID int64) *ProfileLinks {
	return &ProfileLinks{db: db, profileID: profileID}
}

// CreateLink stores a new link for host.
func (p *ProfileLinks) CreateLink(ctx context.Context, name, host string) (device.Link, error) {
	l := &DeviceLink{ProfileID: p.profileID, Name: name, Host: host}
	if err := p.db.Links().Create(ctx, l); err != nil {
		if errors.Is(err, ErrLinkExists) {
			return device.Link{}, fmt.Errorf("%w: %s", device.ErrDuplicate, host)
		}
		return device.Link{}, err
	}
	return l.Link(), nil
}

// RenameLink changes the name of a stored link.
func (p *ProfileLinks) RenameLink(ctx context.Context, id, name string) error {
	if err := p.db.Links().Rename(ctx, id, name); err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return fmt.Errorf("%w: link %s", device.ErrNotFound, id)
		}
		return err
	}
	return nil
}

// DeleteLink removes a stored link.
func (p *ProfileLinks) DeleteLink(ctx context.Context, id string) error {
	if err := p.db.Links().Delete(ctx, id); err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return fmt.Errorf("%w: link %s", device.ErrNotFound, id)
		}
		return err
	}
	return nil
}
