package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is a generic sentinel for identity collisions.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NotFoundError reports a lookup that matched no live row.
type NotFoundError struct {
	Entity string
	Key    string
	Value  string
}

func (e *NotFoundError) Error() string {
	key := e.Key
	if key == "" {
		key = "id"
	}
	return fmt.Sprintf("the item of type %q with %s %q does not exist", e.Entity, key, e.Value)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyExistsError reports a write that collided with an existing identity.
type AlreadyExistsError struct {
	Entity string
	Key    string
	Value  string
	Cause  error
}

func (e *AlreadyExistsError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "the item of type %q", e.Entity)
	if e.Key != "" {
		fmt.Fprintf(&b, " with %s %q", e.Key, e.Value)
	}
	b.WriteString(" already exists")
	return b.String()
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

func (e *AlreadyExistsError) Unwrap() error { return e.Cause }
