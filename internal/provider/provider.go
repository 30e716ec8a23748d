// Package provider holds the data sources behind every tile kind.
//
// A provider is a pull function: it performs one external call and returns a
// display-ready value or an error. Providers never retry on their own and
// never touch the cache; the scheduler owns both concerns.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/t77yq/tileboard/internal/model"
)

var (
	// ErrEmptyResult is returned when a source answered without usable data
	ErrEmptyResult = errors.New("empty result")

	// ErrUnknownKind is returned when no factory is registered for a kind
	ErrUnknownKind = errors.New("no provider for tile kind")

	// ErrUnavailable is returned when a provider's dependency was not configured
	ErrUnavailable = errors.New("provider dependency not configured")
)

// Provider fetches the current value of one tile
type Provider interface {
	Fetch(ctx context.Context, params map[string]string) (any, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, params map[string]string) (any, error)

// Fetch implements Provider
func (f ProviderFunc) Fetch(ctx context.Context, params map[string]string) (any, error) {
	return f(ctx, params)
}

// Error records which kind of source failed
type Error struct {
	Kind model.TileKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with the kind of the failing provider. nil stays nil.
func Wrap(kind model.TileKind, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

func param(params map[string]string, key, def string) string {
	if v, ok := params[key]; ok && v != "" {
		return v
	}
	return def
}
