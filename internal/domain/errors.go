package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrCancelled    = errors.New("cancelled")
)

// Specific errors.
var (
	ErrBasemapNotFound = fmt.Errorf("basemap: %w", ErrNotFound)
	ErrTileNotFound    = fmt.Errorf("tile: %w", ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("job: %w", ErrNotFound)
	ErrInvalidBounds   = fmt.Errorf("bounds: %w", ErrInvalidInput)
	ErrInvalidZoom     = fmt.Errorf("zoom: %w", ErrInvalidInput)
	ErrNoGeoreference  = fmt.Errorf("pdf has no georeferencing: %w", ErrInvalidInput)
	ErrRasterize       = fmt.Errorf("pdf rasterization: %w", ErrInvalidInput)
	ErrBasemapExists   = fmt.Errorf("basemap already exists: %w", ErrInvalidInput)
	ErrTileUnavailable = fmt.Errorf("tile download: %w", ErrUnavailable)
	ErrBasemapBusy     = fmt.Errorf("basemap is processing: %w", ErrUnavailable)
	ErrNotReady        = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrRateLimited     = fmt.Errorf("rate limited: %w", ErrUnavailable)
	ErrStoreClosed     = fmt.Errorf("tile store closed: %w", ErrInternal)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// StoreError represents a failed tile store operation for one basemap.
type StoreError struct {
	Operation string // open, put, get, info, clear, evict, delete
	BasemapID string
	Err       error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.BasemapID != "" {
		return fmt.Sprintf("tile store error during %s for %s: %v",
			e.Operation, e.BasemapID, e.Err)
	}
	return fmt.Sprintf("tile store error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// SourceError represents an error while fetching a PDF source from object storage.
type SourceError struct {
	Operation string // download, list, etc.
	Key       string // Object key
	Err       error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("source error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("source error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// GenerateError reports which stage of a PDF import failed.
type GenerateError struct {
	BasemapID string
	Stage     string // georeference, rasterize, resample, encode, write
	Err       error
}

// Error implements the error interface.
func (e *GenerateError) Error() string {
	return fmt.Sprintf("generating tiles for %s failed at %s: %v", e.BasemapID, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *GenerateError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
