// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package pioerr defines the error kinds shared by the MSR codec, device,
// topology and platformio packages.
package pioerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error independently of its message
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotImplemented
	KindRuntime
	KindIO
	KindOverflow
	KindLogic
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotImplemented:
		return "not implemented"
	case KindRuntime:
		return "runtime error"
	case KindIO:
		return "i/o error"
	case KindOverflow:
		return "overflow"
	case KindLogic:
		return "logic error"
	case KindUnsupported:
		return "unsupported platform"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is matching; an *Error matches the sentinel of its kind
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotImplemented  = &Error{Kind: KindNotImplemented}
	ErrRuntime         = &Error{Kind: KindRuntime}
	ErrIO              = &Error{Kind: KindIO}
	ErrOverflow        = &Error{Kind: KindOverflow}
	ErrLogic           = &Error{Kind: KindLogic}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
)

// Error carries the kind of a failure and the register context it happened in
type Error struct {
	Kind     Kind
	Op       string
	Msg      string
	Register string
	CPU      int
	Offset   uint64
	Err      error

	hasCPU    bool
	hasOffset bool
}

// Option decorates an Error with structured context
type Option func(*Error)

// WithRegister records the register name involved
func WithRegister(name string) Option {
	return func(e *Error) {
		e.Register = name
	}
}

// WithCPU records the logical CPU involved
func WithCPU(cpu int) Option {
	return func(e *Error) {
		e.CPU = cpu
		e.hasCPU = true
	}
}

// WithOffset records the MSR offset involved
func WithOffset(offset uint64) Option {
	return func(e *Error) {
		e.Offset = offset
		e.hasOffset = true
	}
}

// WithCause attaches the underlying error
func WithCause(err error) Option {
	return func(e *Error) {
		e.Err = err
	}
}

// New returns an error of the given kind raised by op
func New(kind Kind, op, msg string, opts ...Option) *Error {
	e := &Error{Kind: kind, Op: op, Msg: msg}
	for _, apply := range opts {
		apply(e)
	}
	return e
}

// Errorf is New with a formatted message
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap returns an error of the given kind with err as the cause
func Wrap(kind Kind, op string, err error, opts ...Option) *Error {
	e := New(kind, op, "", opts...)
	e.Err = err
	return e
}

// With returns e after applying opts; convenient for chaining after Errorf
func (e *Error) With(opts ...Option) *Error {
	for _, apply := range opts {
		apply(e)
	}
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())

	var ctx []string
	if e.Register != "" {
		ctx = append(ctx, "register "+e.Register)
	}
	if e.hasOffset {
		ctx = append(ctx, fmt.Sprintf("offset 0x%x", e.Offset))
	}
	if e.hasCPU {
		ctx = append(ctx, fmt.Sprintf("cpu %d", e.CPU))
	}
	if len(ctx) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(ctx, ", "))
		sb.WriteString(")")
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
