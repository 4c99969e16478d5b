// Package neterr defines the error taxonomy shared by every tessera package.
//
// Each failure belongs to exactly one Kind. Errors carry the layer instance
// name (when one is involved) so that callers can localize a fault without
// parsing messages:
//
//	if errors.Is(err, neterr.ErrResource) {
//	    // lower the batch size or raise the budget
//	}
package neterr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error.
type Kind int

// Error kinds.
const (
	// Unknown is reported by KindOf for errors outside the taxonomy.
	Unknown Kind = iota
	// Configuration covers shape mismatches, unregistered layer types and
	// invalid schemas.
	Configuration
	// DataConsistency covers weight data that does not match its schema.
	DataConsistency
	// Resource covers memory budgets that cannot fit a single entry.
	Resource
	// IO covers reader, writer and file failures.
	IO
	// Format covers malformed or incompatible persisted records.
	Format
)

// Sentinels matched by errors.Is for each kind.
var (
	ErrConfiguration   = stderrors.New("configuration error")
	ErrDataConsistency = stderrors.New("data consistency error")
	ErrResource        = stderrors.New("resource error")
	ErrIO              = stderrors.New("i/o error")
	ErrFormat          = stderrors.New("format error")
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case DataConsistency:
		return "data consistency"
	case Resource:
		return "resource"
	case IO:
		return "i/o"
	case Format:
		return "format"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case Configuration:
		return ErrConfiguration
	case DataConsistency:
		return ErrDataConsistency
	case Resource:
		return ErrResource
	case IO:
		return ErrIO
	case Format:
		return ErrFormat
	default:
		return nil
	}
}

// Error is a classified failure.
type Error struct {
	Kind  Kind
	Layer string // Layer instance name, empty when no layer is involved
	Msg   string
	Err   error // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	var inner *Error
	if e.Msg == "" && e.Layer != "" && stderrors.As(e.Err, &inner) {
		return fmt.Sprintf("layer %q: %s", e.Layer, e.Err)
	}
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Layer != "" {
		return fmt.Sprintf("%s error: layer %q: %s", e.Kind, e.Layer, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newf(kind Kind, layer, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Layer: layer, Msg: fmt.Sprintf(format, args...)})
}

// Configf returns a configuration error for the named layer.
func Configf(layer, format string, args ...any) error {
	return newf(Configuration, layer, format, args...)
}

// Dataf returns a data consistency error for the named layer.
func Dataf(layer, format string, args ...any) error {
	return newf(DataConsistency, layer, format, args...)
}

// Resourcef returns a resource error.
func Resourcef(format string, args ...any) error {
	return newf(Resource, "", format, args...)
}

// Formatf returns a format error.
func Formatf(format string, args ...any) error {
	return newf(Format, "", format, args...)
}

// WrapIO classifies err as an I/O failure of op. A nil err yields nil.
func WrapIO(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return errors.Wrap(err, op)
	}
	return errors.WithStack(&Error{Kind: IO, Msg: op, Err: err})
}

// WrapFormat classifies err as a format failure.
func WrapFormat(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: Format, Msg: msg, Err: err})
}

// WithLayer attaches a layer name to err, keeping its kind and its whole
// chain. Errors outside the taxonomy become configuration errors.
func WithLayer(err error, layer string) error {
	if err == nil {
		return nil
	}
	kind := Configuration
	var e *Error
	if stderrors.As(err, &e) {
		if e.Layer != "" {
			return err
		}
		kind = e.Kind
	}
	return errors.WithStack(&Error{Kind: kind, Layer: layer, Err: err})
}

// KindOf reports the kind of err, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// LayerOf reports the layer name attached to err, if any.
func LayerOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Layer
	}
	return ""
}
