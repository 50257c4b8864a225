package transformheaders

import (
	"net/http"
	"net/url"
)

// Variables are the per-exchange values visible to expressions
type Variables struct {
	APIID      string
	Attributes map[string]interface{}
	Request    *RequestVars
	Response   *ResponseVars
	Message    *MessageVars
}

// RequestVars describe the request of the exchange
type RequestVars struct {
	ID            string
	Method        string
	Path          string
	Host          string
	Scheme        string
	RemoteAddress string
	Headers       http.Header
	Params        url.Values
	// Content is only set for body-scoped transforms
	Content *string
}

// ResponseVars describe the response of the exchange
type ResponseVars struct {
	Status  int
	Headers http.Header
	// Content is only set for body-scoped transforms
	Content *string
}

// MessageVars describe a single streamed message
type MessageVars struct {
	ID         string
	Headers    http.Header
	Content    string
	Attributes map[string]string
}

// RequestIDHeader is read to correlate an exchange when the pipeline did not assign an id
const RequestIDHeader = "X-Request-ID"

// NewRequestVars captures the variables of r
func NewRequestVars(r *http.Request) *RequestVars {
	if r == nil {
		return nil
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	vars := &RequestVars{
		ID:            r.Header.Get(RequestIDHeader),
		Method:        r.Method,
		Host:          r.Host,
		Scheme:        scheme,
		RemoteAddress: r.RemoteAddr,
		Headers:       r.Header,
	}
	if r.URL != nil {
		vars.Path = r.URL.Path
		vars.Params = r.URL.Query()
	}
	return vars
}

// NewResponseVars captures the variables of resp
func NewResponseVars(resp *http.Response) *ResponseVars {
	if resp == nil {
		return nil
	}
	return &ResponseVars{Status: resp.StatusCode, Headers: resp.Header}
}

// data is the template dot. Absent values stay nil so they render as "no value".
func (v *Variables) data() map[string]interface{} {
	out := map[string]interface{}{
		"context": map[string]interface{}{
			"apiId":      v.APIID,
			"attributes": v.Attributes,
		},
		"request":  nil,
		"response": nil,
		"message":  nil,
	}
	if r := v.Request; r != nil {
		out["request"] = map[string]interface{}{
			"id":            r.ID,
			"method":        r.Method,
			"path":          r.Path,
			"host":          r.Host,
			"scheme":        r.Scheme,
			"remoteAddress": r.RemoteAddress,
			"headers":       r.Headers,
			"params":        r.Params,
			"content":       optional(r.Content),
		}
	}
	if r := v.Response; r != nil {
		out["response"] = map[string]interface{}{
			"status":  r.Status,
			"headers": r.Headers,
			"content": optional(r.Content),
		}
	}
	if m := v.Message; m != nil {
		out["message"] = map[string]interface{}{
			"id":         m.ID,
			"headers":    m.Headers,
			"content":    m.Content,
			"attributes": m.Attributes,
		}
	}
	return out
}

func optional(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
