package annotator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/zero-day-ai/annotator/biothings"
	"github.com/zero-day-ai/annotator/curie"
	"github.com/zero-day-ai/annotator/dispatch"
	"github.com/zero-day-ai/annotator/trapi"
)

// Sentinel errors for annotation requests.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrInvalidCurie indicates an identifier without a prefix separator.
	ErrInvalidCurie = curie.ErrInvalid

	// ErrInvalidInput indicates a TRAPI message without a usable
	// message.knowledge_graph.nodes collection.
	ErrInvalidInput = trapi.ErrInvalidMessage

	// ErrUnresolvedType indicates a CURIE whose prefix maps to no semantic type,
	// so no annotation is available for it.
	ErrUnresolvedType = errors.New("no annotation available for curie prefix")

	// ErrUnknownSource indicates a semantic type without an annotation source.
	ErrUnknownSource = dispatch.ErrUnknownSource
)

// Error kinds categorize errors by their type.
const (
	// KindValidation represents malformed client input.
	KindValidation = "validation"

	// KindNotFound represents requests for which no annotation exists.
	KindNotFound = "not_found"

	// KindConfiguration represents missing or inconsistent source configuration.
	KindConfiguration = "configuration"

	// KindNetwork represents failures reaching an annotation source.
	KindNetwork = "network"

	// KindExecution represents upstream failures other than connectivity.
	KindExecution = "execution"

	// KindInternal represents anything else.
	KindInternal = "internal"
)

// Error wraps an underlying error with the operation that failed and the
// category of failure. The transport layer maps Kind onto status codes.
type Error struct {
	// Op is the operation that failed (e.g., "Annotator.AnnotateGraph").
	Op string

	// Kind categorizes the error (e.g., KindValidation).
	Kind string

	// Err is the underlying error.
	Err error

	// Context carries identifiers relevant to the failure (optional).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("annotator: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("annotator: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("annotator: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets it), and
// otherwise delegates to the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of e with ctx merged into its context.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewValidationError creates an Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewNotFoundError creates an Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewConfigurationError creates an Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewNetworkError creates an Error with KindNetwork.
func NewNetworkError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNetwork, Err: err}
}

// NewExecutionError creates an Error with KindExecution.
func NewExecutionError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindExecution, Err: err}
}

// classify wraps err in an *Error whose kind follows from the sentinel it carries.
func classify(op string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	var statusErr *biothings.StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, ErrInvalidCurie), errors.Is(err, ErrInvalidInput):
		return NewValidationError(op, err)
	case errors.Is(err, ErrUnresolvedType):
		return NewNotFoundError(op, err)
	case errors.Is(err, ErrUnknownSource):
		return NewConfigurationError(op, err)
	case errors.As(err, &statusErr):
		return NewExecutionError(op, err)
	case errors.As(err, &netErr):
		return NewNetworkError(op, err)
	default:
		return NewExecutionError(op, err)
	}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// CloseWithLog closes closer and logs a failure at warning level.
// If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer annotator.CloseWithLog(cache, logger, "redis cache")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
