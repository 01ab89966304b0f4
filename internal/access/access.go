// Package access holds the owner and admin set that gate privileged operations.
package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"scenariomarket/internal/apperr"
	"scenariomarket/internal/events"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/storage"
)

// Store is the slice of the ledger the controller reads and writes.
// Both storage.Store and *storage.Tx satisfy it.
type Store interface {
	GetOwner(ctx context.Context) (string, error)
	SetOwner(ctx context.Context, owner string) error
	IsAdminMember(ctx context.Context, address string) (bool, error)
	InsertAdmin(ctx context.Context, a *storage.Admin) error
	DeleteAdmin(ctx context.Context, address string) error
	ListAdmins(ctx context.Context) ([]storage.Admin, error)
	AppendEvent(ctx context.Context, e *storage.LedgerEvent) error
}

// Controller answers "may this caller do that" for the engines
type Controller struct {
	ledger *storage.Ledger
	bus    *events.Bus
	now    func() time.Time
}

// NewController creates a controller over the ledger. bus may be nil.
func NewController(ledger *storage.Ledger, bus *events.Bus) *Controller {
	return &Controller{ledger: ledger, bus: bus, now: time.Now}
}

// WithClock overrides the time source, for tests
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Key normalizes an address to the form stored in the ledger
func Key(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Owner returns the current owner
func (c *Controller) Owner(ctx context.Context) (common.Address, error) {
	return ownerIn(ctx, c.ledger)
}

// IsAdmin reports whether addr is the owner or a member of the admin set
func (c *Controller) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	return IsAdminIn(ctx, c.ledger, addr)
}

// IsAdminIn is IsAdmin against a specific store, typically an open transaction
func IsAdminIn(ctx context.Context, s Store, addr common.Address) (bool, error) {
	owner, err := ownerIn(ctx, s)
	if err != nil {
		return false, err
	}
	if addr == owner {
		return true, nil
	}
	return s.IsAdminMember(ctx, Key(addr))
}

// RequireAdmin fails with apperr.ErrUnauthorized unless caller is an admin
func RequireAdmin(ctx context.Context, s Store, caller common.Address) error {
	ok, err := IsAdminIn(ctx, s, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrUnauthorized
	}
	return nil
}

// RequireOwner fails with apperr.ErrNotOwner unless caller is the owner
func RequireOwner(ctx context.Context, s Store, caller common.Address) error {
	owner, err := ownerIn(ctx, s)
	if err != nil {
		return err
	}
	if caller != owner {
		return apperr.ErrNotOwner
	}
	return nil
}

// AddAdmin puts addr into the admin set. Owner-only.
func (c *Controller) AddAdmin(ctx context.Context, caller, addr common.Address) error {
	now := c.now().Unix()
	err := c.inTx(ctx, func(tx *storage.Tx) error {
		if err := RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		if addr == (common.Address{}) {
			return apperr.ErrInvalidAddress
		}
		if err := tx.InsertAdmin(ctx, &storage.Admin{Address: Key(addr), AddedBy: Key(caller), AddedAt: now}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventAdminAdded, Actor: Key(caller), Details: Key(addr), CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	logger.Info(Key(caller), "admin_added", fmt.Sprintf("admin=%s", Key(addr)))
	c.bus.Publish(events.Event{Type: events.AdminAdded, Actor: Key(caller), Message: Key(addr)})
	return nil
}

// RemoveAdmin takes addr out of the admin set. Owner-only; the owner cannot be removed.
func (c *Controller) RemoveAdmin(ctx context.Context, caller, addr common.Address) error {
	now := c.now().Unix()
	err := c.inTx(ctx, func(tx *storage.Tx) error {
		if err := RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		if addr == caller {
			return apperr.ErrCannotRemoveOwner
		}
		if err := tx.DeleteAdmin(ctx, Key(addr)); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventAdminRemoved, Actor: Key(caller), Details: Key(addr), CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	logger.Info(Key(caller), "admin_removed", fmt.Sprintf("admin=%s", Key(addr)))
	c.bus.Publish(events.Event{Type: events.AdminRemoved, Actor: Key(caller), Message: Key(addr)})
	return nil
}

// TransferOwnership hands ownership to a new address. The previous owner
// stays in the admin set.
func (c *Controller) TransferOwnership(ctx context.Context, caller, to common.Address) error {
	now := c.now().Unix()
	err := c.inTx(ctx, func(tx *storage.Tx) error {
		if err := RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return apperr.ErrInvalidAddress
		}
		if err := tx.SetOwner(ctx, Key(to)); err != nil {
			return err
		}
		if err := tx.InsertAdmin(ctx, &storage.Admin{Address: Key(caller), AddedBy: Key(caller), AddedAt: now}); err != nil {
			return err
		}
		// the new owner is implicitly an admin; drop any redundant membership row
		if err := tx.DeleteAdmin(ctx, Key(to)); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventOwnerTransferred, Actor: Key(caller), Details: Key(to), CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	logger.Info(Key(caller), "owner_transferred", fmt.Sprintf("new_owner=%s", Key(to)))
	c.bus.Publish(events.Event{Type: events.OwnerTransferred, Actor: Key(caller), Message: Key(to)})
	return nil
}

// AllAdmins lists the owner first, then the admin set
func (c *Controller) AllAdmins(ctx context.Context) ([]common.Address, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return nil, err
	}
	members, err := c.ledger.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}

	out := []common.Address{owner}
	for _, m := range members {
		addr := common.HexToAddress(m.Address)
		if addr != owner {
			out = append(out, addr)
		}
	}
	return out, nil
}

func (c *Controller) inTx(ctx context.Context, fn func(tx *storage.Tx) error) error {
	tx, err := c.ledger.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func ownerIn(ctx context.Context, s Store) (common.Address, error) {
	owner, err := s.GetOwner(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if owner == "" {
		return common.Address{}, fmt.Errorf("owner not initialized")
	}
	return common.HexToAddress(owner), nil
}
