// Package errors defines the typed error kinds that surface at the
// operation level, per the error handling design: invalid-dicom,
// storage-unavailable, no-write-volume, disk-low, tenant-not-found,
// conflict, frame-out-of-range, bad-frame-list, and not-found.
package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code identifies one of the error kinds named by the spec's error handling
// design, independent of how it is ultimately rendered over HTTP.
type Code string

const (
	CodeInvalidDicom       Code = "invalid-dicom"
	CodeStorageUnavailable Code = "storage-unavailable"
	CodeNoWriteVolume      Code = "no-write-volume"
	CodeDiskLow            Code = "disk-low"
	CodeTenantNotFound     Code = "tenant-not-found"
	CodeConflict           Code = "conflict"
	CodeFrameOutOfRange    Code = "frame-out-of-range"
	CodeBadFrameList       Code = "bad-frame-list"
	CodeNotFound           Code = "not-found"
	CodeUnknownVolume      Code = "unknown-volume"
	CodeSecurityViolation  Code = "security-violation"
	CodeInvalidTenant      Code = "invalid-tenant"
	CodeInternal           Code = "internal"
)

// httpStatus maps each error kind to the HTTP status code the read/write
// path renders, per spec.md §7.
var httpStatus = map[Code]int{
	CodeInvalidDicom:       http.StatusBadRequest,
	CodeStorageUnavailable: http.StatusServiceUnavailable,
	CodeNoWriteVolume:      http.StatusServiceUnavailable,
	CodeDiskLow:            http.StatusInsufficientStorage, // 507
	CodeTenantNotFound:     http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeFrameOutOfRange:    http.StatusBadRequest,
	CodeBadFrameList:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeUnknownVolume:      http.StatusInternalServerError,
	CodeSecurityViolation:  http.StatusBadRequest,
	CodeInvalidTenant:      http.StatusBadRequest,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is the typed error carried across package boundaries. It captures
// a machine-readable Code, a human Message, an optional wrapped
// InnerError, and the call stack at the point it was created so a panic
// recovery handler can log a useful trace.
type Error struct {
	Code       Code
	Message    string
	InnerError error
	Stack      []runtime.Frame
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack()}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, InnerError: err, Stack: captureStack()}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.InnerError != nil {
		fmt.Fprintf(&b, "error %s. ", e.InnerError.Error())
	}
	fmt.Fprintf(&b, "code %s. message %s", e.Code, e.Message)
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.InnerError
}

func (e *Error) WithCode(code Code) *Error {
	e.Code = code
	return e
}

func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

func (e *Error) WithError(err error) *Error {
	e.InnerError = err
	return e
}

// HTTPStatus returns the status code the read-path HTTP layer should
// render for this error, defaulting to 500 for unknown codes.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GetTopStackString renders the innermost call-stack frame, skipping the
// package path down to "pkg/fn".
func (e *Error) GetTopStackString() string {
	if len(e.Stack) == 0 {
		return ""
	}
	return frameString(e.Stack[0])
}

// GetStackString renders every captured frame, one per line.
func (e *Error) GetStackString() string {
	lines := make([]string, 0, len(e.Stack))
	for _, f := range e.Stack {
		lines = append(lines, frameString(f))
	}
	return strings.Join(lines, "\n")
}

func frameString(f runtime.Frame) string {
	name := "unknown"
	if f.Func != nil {
		parts := strings.Split(f.Func.Name(), "/")
		name = parts[len(parts)-1]
	}
	return fmt.Sprintf("%s:%d %s", f.File, f.Line, name)
}

func captureStack() []runtime.Frame {
	pc := make([]uintptr, 16)
	n := runtime.Callers(3, pc)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pc[:n])
	out := make([]runtime.Frame, 0, n)
	for {
		frame, more := frames.Next()
		out = append(out, frame)
		if !more {
			break
		}
	}
	return out
}

// Convenience constructors mirroring the teacher's commonerrors.NewXxx style.

func NewInvalidDicom(message string) *Error       { return New(CodeInvalidDicom, message) }
func NewStorageUnavailable(err error) *Error       { return Wrap(CodeStorageUnavailable, "storage provider is unavailable", err) }
func NewNoWriteVolume(tier string) *Error          { return New(CodeNoWriteVolume, fmt.Sprintf("no ACTIVE write volume in tier %s", tier)) }
func NewDiskLow(message string) *Error             { return New(CodeDiskLow, message) }
func NewTenantNotFound(code string) *Error         { return New(CodeTenantNotFound, fmt.Sprintf("tenant %q not found or inactive", code)) }
func NewConflict(message string) *Error            { return New(CodeConflict, message) }
func NewFrameOutOfRange(n, total int) *Error {
	return New(CodeFrameOutOfRange, fmt.Sprintf("frame %d out of range (total frames %d)", n, total))
}
func NewBadFrameList(message string) *Error  { return New(CodeBadFrameList, message) }
func NewNotFound(message string) *Error      { return New(CodeNotFound, message) }
func NewUnknownVolume(id int64) *Error       { return New(CodeUnknownVolume, fmt.Sprintf("unknown volume id %d", id)) }
func NewSecurityViolation(message string) *Error { return New(CodeSecurityViolation, message) }
func NewInvalidTenant(code string) *Error {
	return New(CodeInvalidTenant, fmt.Sprintf("tenant identifier %q does not match [a-z0-9_]+", code))
}
func NewInternal(message string, err error) *Error { return Wrap(CodeInternal, message, err) }

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, returning ("", false) otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Code, true
}
