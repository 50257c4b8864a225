package transformheaders

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKey identifies a header transformation failure to the pipeline
const FailureKey = "TRANSFORM_HEADERS_FAILURE"

const (
	failureMessage        = "Unable to apply headers transformation"
	messageFailureMessage = "Unable to apply headers transformation on message"
)

// ErrTransformFailed matches every *Failure with errors.Is
var ErrTransformFailed = errors.New("headers transformation failed")

// Phase names a step of the transformation
type Phase string

const (
	PhaseSet    Phase = "set"
	PhaseAppend Phase = "append"
	PhaseRemove Phase = "remove"
)

// FieldError is an expression evaluation failure for a single header edit
type FieldError struct {
	Phase      Phase
	Header     string
	Expression string
	Err        error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s header %q: %v", e.Phase, e.Header, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// MutationError is returned when a header container rejects a write
type MutationError struct {
	Phase  Phase
	Header string
	Reason string
	Err    error
}

func (e *MutationError) Error() string {
	msg := fmt.Sprintf("cannot write header %q: %s", e.Header, e.Reason)
	if e.Phase != "" {
		msg = fmt.Sprintf("%s: %s", e.Phase, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Failure is the exchange-level failure produced by the adapters. It carries
// the correlation fields of the exchange so the caller can log it.
type Failure struct {
	Key        string
	Message    string
	StatusCode int
	APIID      string
	RequestID  string
	Path       string
	Err        error
}

func newFailure(message string, vars *Variables, err error) *Failure {
	f := &Failure{
		Key:        FailureKey,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
	if vars != nil {
		f.APIID = vars.APIID
		if vars.Request != nil {
			f.RequestID = vars.Request.ID
			f.Path = vars.Request.Path
		}
	}
	return f
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("[api-id:%s] [request-id:%s] [request-path:%s] %s", f.APIID, f.RequestID, f.Path, f.Message)
	if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Is(target error) bool {
	return target == ErrTransformFailed
}

// Fields returns the correlation fields for structured logging
func (f *Failure) Fields() map[string]interface{} {
	return map[string]interface{}{
		"api-id":       f.APIID,
		"request-id":   f.RequestID,
		"request-path": f.Path,
		"key":          f.Key,
	}
}
