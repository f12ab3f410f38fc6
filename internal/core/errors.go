package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrAnalysisDegraded marks an analyzer whose contribution defaulted to zero
	ErrAnalysisDegraded = errors.New("analysis degraded")
	// ErrLookupTimeout is returned when an external lookup exceeded its deadline
	ErrLookupTimeout = errors.New("lookup timed out")
	// ErrTemplateMissing is returned by template stores for unknown languages
	ErrTemplateMissing = errors.New("template not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoRecipients is returned when no report destination could be resolved
	ErrNoRecipients = errors.New("no report recipients resolved")
)

// RuleEvaluationError describes a malformed condition or action
type RuleEvaluationError struct {
	RuleID int64
	Reason string
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %d: %s", e.RuleID, e.Reason)
}

// DeliveryError wraps an SMTP failure with its retry classification
type DeliveryError struct {
	Err error
	// Permanent is true for 5xx replies and configuration errors
	Permanent bool
}

func (e *DeliveryError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent delivery failure: %v", e.Err)
	}
	return fmt.Sprintf("temporary delivery failure: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a DeliveryError that should not be retried
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
