// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrInvalidArgument indicates the caller supplied input that fails validation.
// The request is rejected before any side effect.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrUnauthorized indicates the caller could not be authenticated.
var ErrUnauthorized = errors.New("unauthorized")

// ErrRegistryInvariant indicates the connection registry reached a state
// that unique id assignment should make impossible.
var ErrRegistryInvariant = errors.New("registry invariant violation")
