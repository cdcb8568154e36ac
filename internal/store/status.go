package store

import (
	"fmt"

	"github.com/franz/media-organizer/internal/util"
)

// Status is the lifecycle position of a MediaFile.
type Status string

const (
	StatusDiscovered       Status = "discovered"
	StatusFingerprinted    Status = "fingerprinted"
	StatusMatched          Status = "matched"
	StatusScored           Status = "scored"
	StatusAutoAccepted     Status = "auto_accepted"
	StatusAutoRejected     Status = "auto_rejected"
	StatusPendingReview    Status = "pending_review"
	StatusResolved         Status = "resolved"
	StatusExtractionFailed Status = "extraction_failed"
	StatusFailed           Status = "failed"
)

var allStatuses = []Status{
	StatusDiscovered,
	StatusFingerprinted,
	StatusMatched,
	StatusScored,
	StatusAutoAccepted,
	StatusAutoRejected,
	StatusPendingReview,
	StatusResolved,
	StatusExtractionFailed,
	StatusFailed,
}

type statusTransition struct {
	from Status
	to   Status
}

var allowedTransitions = map[statusTransition]struct{}{
	{StatusDiscovered, StatusFingerprinted}:    {},
	{StatusDiscovered, StatusExtractionFailed}: {},
	{StatusFingerprinted, StatusMatched}:       {},
	{StatusMatched, StatusScored}:              {},
	{StatusScored, StatusAutoAccepted}:         {},
	{StatusScored, StatusAutoRejected}:         {},
	{StatusScored, StatusPendingReview}:        {},
	{StatusPendingReview, StatusResolved}:      {},
	{StatusExtractionFailed, StatusDiscovered}: {},
	{StatusFingerprinted, StatusFailed}:        {},
	{StatusMatched, StatusFailed}:              {},
	{StatusScored, StatusFailed}:               {},
	{StatusFailed, StatusDiscovered}:           {},
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	for _, s := range allStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	_, ok := allowedTransitions[statusTransition{s, next}]
	return ok
}

// CheckTransition returns ErrIllegalTransition for moves outside the
// state machine.
func (s Status) CheckTransition(next Status) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", util.ErrIllegalTransition, s, next)
	}
	return nil
}

// IsTerminal reports whether the pipeline has nothing left to do for a
// file in this status. extraction_failed and failed only move on explicit
// requeue.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAutoAccepted, StatusAutoRejected, StatusResolved, StatusExtractionFailed, StatusFailed:
		return true
	}
	return false
}

// Kind distinguishes audio from video media.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)
