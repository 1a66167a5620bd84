// Package registry implements the user registry: validation, ownership and
// uniqueness guards around the add/update/remove transitions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/events"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository"
)

// DefaultNameMinLength is the shortest accepted user name, in bytes.
const DefaultNameMinLength = 3

// Slot 0 of the historical index is never assigned, so the first user gets
// index 1 and the reported length is always one above the insert count.
const reservedSlots = 1

// Options tunes registry validation.
type Options struct {
	NameMinLength int
}

// Service owns registry state transitions.
type Service struct {
	users  repository.UserRepository
	events events.Sink
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// New constructs a Service. A nil sink disables notifications.
func New(users repository.UserRepository, sink events.Sink, logger *slog.Logger, opts Options) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NameMinLength <= 0 {
		opts.NameMinLength = DefaultNameMinLength
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return Service{users: users, events: sink, logger: logger, opts: opts, now: time.Now}
}

// Add registers a record for caller and returns its historical index.
func (s Service) Add(ctx context.Context, caller, name, email string) (int64, error) {
	if err := s.validateName(name); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	var index int64
	err := s.users.WithinTx(ctx, func(tx repository.UserWriter) error {
		current, err := found(tx.GetUserByOwner(ctx, caller))
		if err != nil {
			return err
		}
		if current != nil {
			return ErrUserExists
		}
		bound, err := found(tx.GetUserByEmail(ctx, email))
		if err != nil {
			return err
		}
		if bound != nil {
			return ErrEmailExists
		}
		next, err := tx.NextIndex(ctx)
		if err != nil {
			return fmt.Errorf("allocate index: %w", err)
		}
		user := &domain.User{
			Owner:     caller,
			Name:      name,
			Email:     email,
			Index:     next,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			return storeError("insert user", err)
		}
		index = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("user added", "owner", caller, "index", index)
	s.emit(ctx, domain.EventUserAdded, domain.UserAdded{Index: index, Name: name, Email: email})
	return index, nil
}

// Exists reports whether email is bound to any identity.
func (s Service) Exists(ctx context.Context, email string) (bool, error) {
	bound, err := found(s.users.GetUserByEmail(ctx, email))
	if err != nil {
		return false, fmt.Errorf("lookup email: %w", err)
	}
	return bound != nil, nil
}

// GetUserByEmail returns the name of the record bound to email.
func (s Service) GetUserByEmail(ctx context.Context, email string) (string, error) {
	bound, err := found(s.users.GetUserByEmail(ctx, email))
	if err != nil {
		return "", fmt.Errorf("lookup email: %w", err)
	}
	if bound == nil {
		return "", ErrUserNotExists
	}
	return bound.Name, nil
}

// GetUser returns the record owned by caller.
func (s Service) GetUser(ctx context.Context, caller string) (*domain.User, error) {
	current, err := found(s.users.GetUserByOwner(ctx, caller))
	if err != nil {
		return nil, fmt.Errorf("lookup owner: %w", err)
	}
	if current == nil {
		return nil, ErrUserNotExists
	}
	return current, nil
}

// GetUsersLength returns the historical index length. Removals do not lower it.
func (s Service) GetUsersLength(ctx context.Context) (int64, error) {
	inserted, err := s.users.CountInserted(ctx)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return inserted + reservedSlots, nil
}

// Update replaces the name and email of the caller's record.
func (s Service) Update(ctx context.Context, caller, name, email string) error {
	if err := s.validateName(name); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.users.WithinTx(ctx, func(tx repository.UserWriter) error {
		current, err := found(tx.GetUserByOwner(ctx, caller))
		if err != nil {
			return err
		}
		bound, err := found(tx.GetUserByEmail(ctx, email))
		if err != nil {
			return err
		}
		if current == nil {
			// A caller without a record can only reach someone else's.
			if bound != nil {
				return ErrNotOwner
			}
			return ErrUserNotExists
		}
		if bound != nil && !owns(caller, bound) {
			return ErrEmailExists
		}
		next := *current
		next.Name = name
		next.Email = email
		next.UpdatedAt = now
		if err := tx.UpdateUser(ctx, current.Email, &next); err != nil {
			return storeError("update user", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("user updated", "owner", caller)
	s.emit(ctx, domain.EventUserUpdated, domain.UserUpdated{Name: name, Email: email})
	return nil
}

// Remove deletes the record bound to email when caller owns it.
func (s Service) Remove(ctx context.Context, caller, email string) error {
	var index int64
	err := s.users.WithinTx(ctx, func(tx repository.UserWriter) error {
		bound, err := found(tx.GetUserByEmail(ctx, email))
		if err != nil {
			return err
		}
		if bound == nil {
			return ErrUserNotExists
		}
		if !owns(caller, bound) {
			return ErrNotOwner
		}
		if err := tx.DeleteUser(ctx, bound); err != nil {
			return storeError("delete user", err)
		}
		index = bound.Index
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("user removed", "owner", caller, "index", index)
	return nil
}

func (s Service) validateName(name string) error {
	if len(name) < s.opts.NameMinLength {
		return ErrNameTooShort
	}
	return nil
}

// emit hands the notification to the sink. A failing sink never undoes a commit.
func (s Service) emit(ctx context.Context, eventType string, payload any) {
	evt := events.NewEvent(eventType, payload, s.now())
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("event publish failed", "type", eventType, "event_id", evt.ID, "error", err)
	}
}

// owns is the only authorization rule: the caller must be the record's creator.
func owns(caller string, user *domain.User) bool {
	return user.Owner == caller
}

// found folds repository.ErrNotFound into a nil user.
func found(user *domain.User, err error) (*domain.User, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// storeError maps a unique index rejection that slipped past the guards.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict):
		return ErrEmailExists
	case errors.Is(err, repository.ErrNotFound):
		return ErrUserNotExists
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
