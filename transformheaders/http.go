package transformheaders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
)

// OnRequest transforms the headers of r in place
func (p *Policy) OnRequest(r *http.Request) error {
	if p.skipped(r.URL.Path) {
		return nil
	}
	vars := &Variables{APIID: p.apiID, Request: NewRequestVars(r)}
	return p.apply(r.Context(), failureMessage, NewHTTPHeaders(r.Header), vars)
}

// OnResponse transforms the headers of resp in place. resp.Request, when set,
// provides the request variables.
func (p *Policy) OnResponse(resp *http.Response) error {
	vars := &Variables{APIID: p.apiID, Request: NewRequestVars(resp.Request), Response: NewResponseVars(resp)}
	if vars.Request != nil && p.skipped(vars.Request.Path) {
		return nil
	}
	return p.apply(contextOf(resp.Request), failureMessage, NewHTTPHeaders(resp.Header), vars)
}

// ModifyResponse can be used as httputil.ReverseProxy.ModifyResponse
func (p *Policy) ModifyResponse(resp *http.Response) error {
	return p.OnResponse(resp)
}

// ErrorHandler can be used as httputil.ReverseProxy.ErrorHandler. It renders
// transformation failures and answers 502 for anything else.
func (p *Policy) ErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	var failure *Failure
	if errors.As(err, &failure) {
		WriteFailure(w, failure)
		return
	}
	p.logger.WithError(err).WithField("request-path", r.URL.Path).Error("Upstream request failed")
	w.WriteHeader(http.StatusBadGateway)
}

// Middleware transforms request headers before next runs and response headers
// when next commits its status. Failures answer 500 instead.
func (p *Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := p.OnRequest(r); err != nil {
			WriteFailure(w, err)
			return
		}
		if p.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		tw := p.responseWriter(w, r)
		next.ServeHTTP(tw, r)
		tw.commit()
	})
}

// responseWriter transforms the headers of w when the status is committed
func (p *Policy) responseWriter(w http.ResponseWriter, r *http.Request) *transformingWriter {
	tw := &transformingWriter{ResponseWriter: w}
	tw.onCommit = func(status int) error {
		vars := &Variables{
			APIID:    p.apiID,
			Request:  NewRequestVars(r),
			Response: &ResponseVars{Status: status, Headers: w.Header()},
		}
		return p.apply(r.Context(), failureMessage, NewHTTPHeaders(w.Header()), vars)
	}
	return tw
}

func (p *Policy) fail(message string, vars *Variables, err error) *Failure {
	f := newFailure(message, vars, err)
	p.logger.WithFields(logrus.Fields(f.Fields())).WithError(err).Error(message)
	return f
}

func contextOf(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	return r.Context()
}

type failureBody struct {
	Key     string `json:"key"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// WriteFailure answers with the failure as JSON. Headers already present on w are dropped.
func WriteFailure(w http.ResponseWriter, err error) {
	var failure *Failure
	if !errors.As(err, &failure) {
		failure = newFailure(failureMessage, nil, err)
	}
	for name := range w.Header() {
		delete(w.Header(), name)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(failure.StatusCode)
	_ = json.NewEncoder(w).Encode(failureBody{
		Key:     failure.Key,
		Message: failure.Message,
		Status:  failure.StatusCode,
	})
}

// transformingWriter runs onCommit once, right before the status line is written
type transformingWriter struct {
	http.ResponseWriter
	onCommit  func(status int) error
	committed bool
	failed    bool
}

func (tw *transformingWriter) WriteHeader(status int) {
	if tw.committed {
		return
	}
	tw.committed = true
	if err := tw.onCommit(status); err != nil {
		tw.failed = true
		WriteFailure(tw.ResponseWriter, err)
		return
	}
	tw.ResponseWriter.WriteHeader(status)
}

// commit sends the implicit 200 of a handler that returned without writing
func (tw *transformingWriter) commit() {
	if !tw.committed {
		tw.WriteHeader(http.StatusOK)
	}
}

func (tw *transformingWriter) Write(b []byte) (int, error) {
	tw.commit()
	if tw.failed {
		// the body belongs to the aborted response
		return len(b), nil
	}
	return tw.ResponseWriter.Write(b)
}

func (tw *transformingWriter) Flush() {
	tw.commit()
	if f, ok := tw.ResponseWriter.(http.Flusher); ok && !tw.failed {
		f.Flush()
	}
}

func (tw *transformingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
