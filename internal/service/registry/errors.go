package registry

import "errors"

// Kind classifies registry failures so transports can branch on them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
)

// Error is a registry failure with a stable reason string.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Is matches another *Error with the same kind and reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

var (
	ErrNameTooShort  = &Error{Kind: KindValidation, Reason: "name too short"}
	ErrUserExists    = &Error{Kind: KindConflict, Reason: "user exists"}
	ErrEmailExists   = &Error{Kind: KindConflict, Reason: "email exists"}
	ErrUserNotExists = &Error{Kind: KindNotFound, Reason: "user not exists"}
	ErrNotOwner      = &Error{Kind: KindAuthorization, Reason: "is not the owner"}
)

// KindOf returns the kind of a registry error, or "" for anything else.
func KindOf(err error) Kind {
	var regErr *Error
	if errors.As(err, &regErr) {
		return regErr.Kind
	}
	return ""
}
