package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const metaOwnerKey = "owner"

// GetOwner returns the stored owner address, "" if never seeded
func (s Store) GetOwner(ctx context.Context) (string, error) {
	var owner string
	err := s.get(ctx, &owner, `SELECT value FROM meta WHERE key = ?`, metaOwnerKey)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get owner: %w", err)
	}
	return owner, nil
}

// SetOwner replaces the owner address
func (s Store) SetOwner(ctx context.Context, owner string) error {
	_, err := s.exec(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, metaOwnerKey, owner)
	if err != nil {
		return fmt.Errorf("failed to set owner: %w", err)
	}
	return nil
}

// IsAdminMember reports whether address is in the admin set (the owner is not implied)
func (s Store) IsAdminMember(ctx context.Context, address string) (bool, error) {
	var n int
	if err := s.get(ctx, &n, `SELECT COUNT(*) FROM admins WHERE address = ?`, address); err != nil {
		return false, fmt.Errorf("failed to check admin: %w", err)
	}
	return n > 0, nil
}

// InsertAdmin adds address to the admin set; adding an existing member is a no-op
func (s Store) InsertAdmin(ctx context.Context, a *Admin) error {
	_, err := s.exec(ctx, `
		INSERT INTO admins (address, added_by, added_at) VALUES (?, ?, ?)
		ON CONFLICT (address) DO NOTHING
	`, a.Address, a.AddedBy, a.AddedAt)
	if err != nil {
		return fmt.Errorf("failed to insert admin: %w", err)
	}
	return nil
}

// DeleteAdmin removes address from the admin set; removing a non-member is a no-op
func (s Store) DeleteAdmin(ctx context.Context, address string) error {
	if _, err := s.exec(ctx, `DELETE FROM admins WHERE address = ?`, address); err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	return nil
}

// ListAdmins returns the admin set in the order members were added
func (s Store) ListAdmins(ctx context.Context) ([]Admin, error) {
	admins := []Admin{}
	err := s.selectAll(ctx, &admins, `
		SELECT address, added_by, added_at FROM admins
		ORDER BY added_at ASC, address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return admins, nil
}
