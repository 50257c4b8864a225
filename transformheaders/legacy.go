package transformheaders

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// LegacyPolicy is the single-shot adapter set. It honors Config.Scope, only
// runs the set and remove phases, and by default skips headers whose
// expression fails instead of failing the exchange. Rejected writes and
// cancellation still fail the exchange.
type LegacyPolicy struct {
	*Policy
	scope Scope
}

// NewLegacyPolicy creates a legacy policy from a private copy of config.
// WithFailurePolicy(AbortOnFailure) restores whole-operation failures.
func NewLegacyPolicy(config *Config, opts ...Option) *LegacyPolicy {
	p := newPolicy(config, IsolateFailures, opts...)
	edits := p.config.Clone()
	edits.AppendHeaders = nil
	p.engine = NewEngine(edits, p.onFailure)
	return &LegacyPolicy{Policy: p, scope: p.config.Scope.OrDefault()}
}

// Scope returns the stage the policy applies to
func (l *LegacyPolicy) Scope() Scope {
	return l.scope
}

// OnRequest transforms request headers when the scope is REQUEST or
// REQUEST_CONTENT. For REQUEST_CONTENT the body is buffered first and put
// back unchanged.
func (l *LegacyPolicy) OnRequest(r *http.Request) error {
	if l.skipped(r.URL.Path) {
		return nil
	}
	switch l.scope {
	case ScopeRequest:
		return l.Policy.OnRequest(r)
	case ScopeRequestContent:
		return l.onRequestContent(r)
	}
	return nil
}

func (l *LegacyPolicy) onRequestContent(r *http.Request) error {
	vars := &Variables{APIID: l.apiID, Request: NewRequestVars(r)}
	stream := NewContentStream()
	if r.Body != nil {
		_, err := stream.ReadFrom(r.Body)
		r.Body.Close()
		if err != nil {
			return l.fail(failureMessage, vars, fmt.Errorf("failed to read request body: %w", err))
		}
	}
	content, err := stream.End()
	if err != nil {
		return l.fail(failureMessage, vars, err)
	}
	vars.Request.Content = &content

	err = stream.Transform(func() error {
		return l.apply(r.Context(), failureMessage, NewHTTPHeaders(r.Header), vars)
	})
	if err != nil {
		return err
	}

	body := &bytes.Buffer{}
	n, err := stream.Forward(body)
	if err != nil {
		return l.fail(failureMessage, vars, err)
	}
	r.ContentLength = n
	if n == 0 {
		r.Body = http.NoBody
	} else {
		r.Body = io.NopCloser(body)
	}
	return nil
}

// OnResponse transforms response headers when the scope is RESPONSE or
// RESPONSE_CONTENT
func (l *LegacyPolicy) OnResponse(resp *http.Response) error {
	if resp.Request != nil && l.skipped(resp.Request.URL.Path) {
		return nil
	}
	switch l.scope {
	case ScopeResponse:
		return l.Policy.OnResponse(resp)
	case ScopeResponseContent:
		return l.onResponseContent(resp)
	}
	return nil
}

func (l *LegacyPolicy) onResponseContent(resp *http.Response) error {
	vars := &Variables{APIID: l.apiID, Request: NewRequestVars(resp.Request), Response: NewResponseVars(resp)}
	stream := NewContentStream()
	if resp.Body != nil {
		_, err := stream.ReadFrom(resp.Body)
		resp.Body.Close()
		if err != nil {
			return l.fail(failureMessage, vars, fmt.Errorf("failed to read response body: %w", err))
		}
	}
	content, err := stream.End()
	if err != nil {
		return l.fail(failureMessage, vars, err)
	}
	vars.Response.Content = &content

	err = stream.Transform(func() error {
		return l.apply(contextOf(resp.Request), failureMessage, NewHTTPHeaders(resp.Header), vars)
	})
	if err != nil {
		return err
	}

	body := &bytes.Buffer{}
	n, err := stream.Forward(body)
	if err != nil {
		return l.fail(failureMessage, vars, err)
	}
	resp.ContentLength = n
	if n == 0 {
		resp.Body = http.NoBody
	} else {
		resp.Body = io.NopCloser(body)
	}
	return nil
}

// ModifyResponse can be used as httputil.ReverseProxy.ModifyResponse
func (l *LegacyPolicy) ModifyResponse(resp *http.Response) error {
	return l.OnResponse(resp)
}

// Middleware applies the policy at the stage selected by its scope
func (l *LegacyPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := l.OnRequest(r); err != nil {
			WriteFailure(w, err)
			return
		}
		if l.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		switch l.scope {
		case ScopeResponse:
			tw := l.responseWriter(w, r)
			next.ServeHTTP(tw, r)
			tw.commit()
		case ScopeResponseContent:
			l.serveBuffered(w, r, next)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (l *LegacyPolicy) serveBuffered(w http.ResponseWriter, r *http.Request, next http.Handler) {
	bw := &bufferingWriter{header: w.Header(), stream: NewContentStream()}
	next.ServeHTTP(bw, r)

	content, err := bw.stream.End()
	if err != nil {
		WriteFailure(w, err)
		return
	}
	status := bw.status
	if status == 0 {
		status = http.StatusOK
	}
	vars := &Variables{
		APIID:    l.apiID,
		Request:  NewRequestVars(r),
		Response: &ResponseVars{Status: status, Headers: w.Header(), Content: &content},
	}
	err = bw.stream.Transform(func() error {
		return l.apply(r.Context(), failureMessage, NewHTTPHeaders(w.Header()), vars)
	})
	if err != nil {
		WriteFailure(w, err)
		return
	}

	w.WriteHeader(status)
	if _, err := bw.stream.Forward(w); err != nil {
		l.logger.WithError(err).WithField("request-path", r.URL.Path).Debug("Failed to forward response body")
	}
}

// bufferingWriter holds back the status and body until the handler returns
type bufferingWriter struct {
	header http.Header
	stream *ContentStream
	status int
}

func (bw *bufferingWriter) Header() http.Header {
	return bw.header
}

func (bw *bufferingWriter) WriteHeader(status int) {
	if bw.status == 0 {
		bw.status = status
	}
}

func (bw *bufferingWriter) Write(b []byte) (int, error) {
	if bw.status == 0 {
		bw.status = http.StatusOK
	}
	return bw.stream.Write(b)
}
