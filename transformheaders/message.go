package transformheaders

import (
	"context"
	"net/http"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Message is one message flowing through a streamed exchange
type Message interface {
	ID() string
	Headers() Headers
	Content() []byte
	Attributes() map[string]string
}

// HTTPMessage is a streamed HTTP message (SSE event, webhook payload, websocket frame)
type HTTPMessage struct {
	MessageID    string
	Header       http.Header
	Body         []byte
	MessageAttrs map[string]string
}

// NewHTTPMessage creates a message with an empty header set
func NewHTTPMessage(id string, body []byte) *HTTPMessage {
	return &HTTPMessage{MessageID: id, Header: http.Header{}, Body: body}
}

func (m *HTTPMessage) ID() string { return m.MessageID }

func (m *HTTPMessage) Headers() Headers {
	if m.Header == nil {
		m.Header = http.Header{}
	}
	return NewHTTPHeaders(m.Header)
}

func (m *HTTPMessage) Content() []byte { return m.Body }

func (m *HTTPMessage) Attributes() map[string]string { return m.MessageAttrs }

// valuer is implemented by containers that can expose header values to expressions
type valuer interface {
	Values(name string) []string
}

func (h *HTTPHeaders) Values(name string) []string {
	if key, ok := h.lookup(name); ok {
		return h.header[key]
	}
	return nil
}

func (m *MetadataHeaders) Values(name string) []string {
	return m.md.Get(name)
}

// snapshotHeaders copies the values of headers for expression evaluation
func snapshotHeaders(headers Headers) http.Header {
	out := http.Header{}
	v, ok := headers.(valuer)
	for _, name := range headers.Names() {
		if !ok {
			out[name] = nil
			continue
		}
		out[name] = append([]string(nil), v.Values(name)...)
	}
	return out
}

// MessageOption adds exchange-level variables to a message transformation
type MessageOption func(*Variables)

// WithRequest exposes the request of the owning exchange to message expressions
func WithRequest(r *http.Request) MessageOption {
	return func(v *Variables) { v.Request = NewRequestVars(r) }
}

// WithAttributes exposes exchange attributes to message expressions
func WithAttributes(attrs map[string]interface{}) MessageOption {
	return func(v *Variables) { v.Attributes = attrs }
}

// OnMessage transforms the headers of msg with expressions bound to that
// message only. On failure the message must not be forwarded.
func (p *Policy) OnMessage(ctx context.Context, msg Message, opts ...MessageOption) error {
	headers := msg.Headers()
	vars := p.vars()
	for _, opt := range opts {
		opt(vars)
	}
	vars.Message = &MessageVars{
		ID:         msg.ID(),
		Headers:    snapshotHeaders(headers),
		Content:    string(msg.Content()),
		Attributes: msg.Attributes(),
	}
	return p.apply(ctx, messageFailureMessage, headers, vars)
}

// TransformMessages reads messages from in, transforms them concurrently and
// sends the successful ones to out. Interrupted messages are handed to
// onInterrupt and dropped. Output order is not preserved. It returns when in is
// closed and every message is handled, or when ctx is done.
func (p *Policy) TransformMessages(ctx context.Context, in <-chan Message, out chan<- Message,
	onInterrupt func(Message, error), opts ...MessageOption) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for {
		var msg Message
		var open bool
		select {
		case <-gctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case msg, open = <-in:
		}
		if !open {
			return g.Wait()
		}

		g.Go(func() error {
			if err := p.OnMessage(gctx, msg, opts...); err != nil {
				if onInterrupt != nil {
					onInterrupt(msg, err)
				}
				return nil
			}
			select {
			case out <- msg:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
}
