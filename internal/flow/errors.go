package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/go-promptflow/internal/prompt"
	"github.com/ahrav/go-promptflow/internal/shape"
)

type (
	// ValidationError reports input that does not satisfy a flow's input
	// shape. It is a caller bug and never retried.
	ValidationError = shape.ValidationError

	// TemplateError reports a template path that cannot be resolved. At
	// definition time it means the flow is misconfigured; at call time it
	// means the input slipped past validation.
	TemplateError = prompt.TemplateError
)

var (
	// ErrInvalidDefinition indicates a flow could not be defined.
	ErrInvalidDefinition = errors.New("invalid flow definition")

	// ErrRegistrySealed indicates registration was attempted after startup.
	ErrRegistrySealed = errors.New("flow registry sealed")
)

// MismatchSource identifies where a wrong-shaped output came from.
type MismatchSource string

const (
	// SourceProvider marks output returned by the model provider.
	SourceProvider MismatchSource = "provider"
	// SourceGuard marks output produced by a short-circuit guard.
	SourceGuard MismatchSource = "guard"
)

// ProviderError wraps a model provider failure. The flow layer never retries
// it; retry policy belongs to the provider.
type ProviderError struct {
	Flow  string
	Cause error
}

// Error implements error.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("flow %s: provider failed: %v", e.Flow, e.Cause)
}

// Unwrap returns the provider's error.
func (e *ProviderError) Unwrap() error { return e.Cause }

// SchemaMismatchError reports output that does not match the flow's output
// shape. The value is never repaired or partially returned.
type SchemaMismatchError struct {
	Flow   string
	Source MismatchSource
	Cause  error
}

// Error implements error.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("flow %s: %s output does not match schema: %v", e.Flow, e.Source, e.Cause)
}

// Unwrap returns the underlying *ValidationError.
func (e *SchemaMismatchError) Unwrap() error { return e.Cause }

// CancelledError reports an invocation whose context was cancelled or timed
// out while the provider call was pending.
type CancelledError struct {
	Flow  string
	Cause error
}

// Error implements error.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("flow %s: cancelled: %v", e.Flow, e.Cause)
}

// Unwrap returns the context error.
func (e *CancelledError) Unwrap() error { return e.Cause }

// DuplicateFlowError reports a second registration under an existing name.
type DuplicateFlowError struct {
	Name string
}

// Error implements error.
func (e *DuplicateFlowError) Error() string {
	return fmt.Sprintf("flow %q already registered", e.Name)
}

// NotFoundError reports a lookup of an unregistered flow.
type NotFoundError struct {
	Name string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flow %q not found", e.Name)
}

// Outcome classifies how an invocation ended. It is used as a metrics label
// and as the Temporal application error type.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeShortCircuited Outcome = "short_circuited"
	OutcomeValidation     Outcome = "validation"
	OutcomeTemplate       Outcome = "template"
	OutcomeProvider       Outcome = "provider"
	OutcomeSchemaMismatch Outcome = "schema_mismatch"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeUnknown        Outcome = "unknown"
)

// Classify maps an error returned by this package to its Outcome. A nil
// error is OutcomeCompleted.
//
// SchemaMismatchError wraps a ValidationError, so the wrapping types are
// checked before the ones they carry.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeCompleted
	}

	var (
		cancelled *CancelledError
		mismatch  *SchemaMismatchError
		provider  *ProviderError
		notFound  *NotFoundError
		tmplErr   *TemplateError
		valErr    *ValidationError
	)
	switch {
	case errors.As(err, &cancelled):
		return OutcomeCancelled
	case errors.As(err, &mismatch):
		return OutcomeSchemaMismatch
	case errors.As(err, &provider):
		return OutcomeProvider
	case errors.As(err, &notFound):
		return OutcomeNotFound
	case errors.As(err, &tmplErr):
		return OutcomeTemplate
	case errors.As(err, &valErr):
		return OutcomeValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeUnknown
	}
}
