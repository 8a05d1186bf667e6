// Package errors defines the typed errors surfaced by the mixer's
// components: a small ErrorType tag, an Underlying error for
// errors.Is/As, and a Timestamp, with each type satisfying the
// standard error interface.
package errors

import (
	"fmt"
	"time"
)

// ErrorType tags which component an error belongs to.
type ErrorType string

const (
	ErrorTypeRouter   ErrorType = "router"
	ErrorTypeMixer    ErrorType = "mixer"
	ErrorTypeTagFile  ErrorType = "tagfile"
	ErrorTypeWatch    ErrorType = "watch"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// RouterError reports a request the router could not parse or map to
// a source set.
type RouterError struct {
	Reason     string
	Underlying error
	Timestamp  time.Time
}

func NewRouterError(reason string, err error) *RouterError {
	return &RouterError{Reason: reason, Underlying: err, Timestamp: time.Now()}
}

func (e *RouterError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("router: %s: %v", e.Reason, e.Underlying)
	}
	return fmt.Sprintf("router: %s", e.Reason)
}

func (e *RouterError) Unwrap() error { return e.Underlying }

// MixerError reports that all K shards of a source failed to
// respond.
type MixerError struct {
	SourceID   string
	Underlying error
	Timestamp  time.Time
}

func NewMixerError(sourceID string, err error) *MixerError {
	return &MixerError{SourceID: sourceID, Underlying: err, Timestamp: time.Now()}
}

func (e *MixerError) Error() string {
	return fmt.Sprintf("mixer: source %s failed: %v", e.SourceID, e.Underlying)
}

func (e *MixerError) Unwrap() error { return e.Underlying }

// TagFileError reports a tag file that could not be read or parsed.
// Recoverable distinguishes "leave prior state intact and carry on"
// from a malformed corpus the store cannot trust.
type TagFileError struct {
	Path        string
	Operation   string // "reload" | "update"
	Recoverable bool
	Underlying  error
	Timestamp   time.Time
}

func NewTagFileError(op, path string, recoverable bool, err error) *TagFileError {
	return &TagFileError{
		Path:        path,
		Operation:   op,
		Recoverable: recoverable,
		Underlying:  err,
		Timestamp:   time.Now(),
	}
}

func (e *TagFileError) Error() string {
	return fmt.Sprintf("tagfile %s %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *TagFileError) Unwrap() error { return e.Underlying }

// WatchError reports a failure in the watch driver. Fatal errors
// should terminate the event loop; callers check Fatal before deciding
// to keep running.
type WatchError struct {
	Path       string
	Operation  string
	Fatal      bool
	Underlying error
	Timestamp  time.Time
}

func NewWatchError(op, path string, fatal bool, err error) *WatchError {
	return &WatchError{Path: path, Operation: op, Fatal: fatal, Underlying: err, Timestamp: time.Now()}
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch %s %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *WatchError) Unwrap() error { return e.Underlying }

// ConfigError reports a malformed configuration value.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Underlying: err, Timestamp: time.Now()}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }

// MultiError aggregates independent errors, e.g. the index batcher
// reporting several non-zero indexer exits from one quiescence flush.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
	}
}

func (e *MultiError) Unwrap() []error { return e.Errors }
