package util

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Input defects. The file is marked failed and the batch moves on.
var (
	// ErrUnsupportedFormat indicates the container or codec cannot be decoded
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCorruptMedia indicates decoding failed partway through the stream
	ErrCorruptMedia = errors.New("corrupt media")

	// ErrSchemaMismatch indicates a feature vector of the wrong version or shape
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrExtractionTimeout indicates extraction exceeded its per-file budget
	ErrExtractionTimeout = errors.New("extraction timeout")
)

// Transient faults. Retried with backoff; the file keeps its status.
var (
	ErrIndexUnavailable    = errors.New("fingerprint index unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrMetadataUnavailable = errors.New("metadata lookup unavailable")
)

// Model and configuration faults abort the whole batch.
var (
	// ErrModelUnavailable indicates no active scoring model exists
	ErrModelUnavailable = errors.New("no active model")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

var (
	// ErrConflict indicates a concurrent writer changed the row first
	ErrConflict = errors.New("concurrent update conflict")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition indicates a status change outside the state machine
	ErrIllegalTransition = errors.New("illegal status transition")

	ErrNotPending           = errors.New("file is not pending review")
	ErrInsufficientFeedback = errors.New("insufficient feedback for training")
	ErrValidationFailed     = errors.New("model failed validation")
)

// ErrorClass groups errors by how the pipeline reacts to them.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassInputDefect
	ClassTransient
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassInputDefect:
		return "input_defect"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps err onto the pipeline's error taxonomy.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrCorruptMedia),
		errors.Is(err, ErrSchemaMismatch),
		errors.Is(err, ErrExtractionTimeout):
		return ClassInputDefect
	case errors.Is(err, ErrModelUnavailable),
		errors.Is(err, ErrInvalidConfig):
		return ClassFatal
	case errors.Is(err, ErrIndexUnavailable),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrMetadataUnavailable),
		errors.Is(err, ErrConflict):
		return ClassTransient
	}
	return ClassUnknown
}

var errorKinds = []struct {
	marker error
	kind   string
}{
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrCorruptMedia, "corrupt_media"},
	{ErrSchemaMismatch, "schema_mismatch"},
	{ErrExtractionTimeout, "extraction_timeout"},
	{ErrIndexUnavailable, "index_unavailable"},
	{ErrStoreUnavailable, "store_unavailable"},
	{ErrMetadataUnavailable, "metadata_unavailable"},
	{ErrModelUnavailable, "model_unavailable"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrConflict, "conflict"},
	{ErrNotFound, "not_found"},
	{ErrIllegalTransition, "illegal_transition"},
	{ErrNotPending, "not_pending"},
	{ErrInsufficientFeedback, "insufficient_feedback"},
	{ErrValidationFailed, "validation_failed"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
}

// ErrorKind returns a stable identifier for err, suitable for log rows.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.marker) {
			return k.kind
		}
	}
	return "internal"
}

// Wrap tags err with marker and the stage/operation it failed in. The
// result matches both marker and err under errors.Is.
func Wrap(marker error, stage, operation string, err error) error {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(stage); s != "" {
		parts = append(parts, s)
	}
	if op := strings.TrimSpace(operation); op != "" {
		parts = append(parts, op)
	}
	where := strings.Join(parts, ": ")
	switch {
	case err == nil && where == "":
		return marker
	case err == nil:
		return fmt.Errorf("%w: %s", marker, where)
	case where == "":
		return fmt.Errorf("%w: %w", marker, err)
	default:
		return fmt.Errorf("%w: %s: %w", marker, where, err)
	}
}
