package transformheaders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_OnMessage(t *testing.T) {
	policy := NewBuilder().
		AddHeader("X-Message-Id", "{{ .message.id }}").
		AddHeader("X-Kind", `{{ jsonPath "kind" .message.content }}`).
		AddHeader("X-Topic", "{{ .message.attributes.topic }}").
		AppendHeader("X-Trace", "gw").
		WhitelistHeaders("X-Message-Id", "X-Kind", "X-Topic", "X-Trace").
		Build()

	msg := NewHTTPMessage("m-1", []byte(`{"kind":"created"}`))
	msg.Header.Set("X-Trace", "producer")
	msg.Header.Set("X-Noise", "1")
	msg.MessageAttrs = map[string]string{"topic": "orders"}

	require.NoError(t, policy.OnMessage(context.Background(), msg))

	assert.Equal(t, http.Header{
		"X-Message-Id": {"m-1"},
		"X-Kind":       {"created"},
		"X-Topic":      {"orders"},
		"X-Trace":      {"producer", "gw"},
	}, msg.Header)
}

func TestPolicy_OnMessage_SeesOnlyItsOwnMessage(t *testing.T) {
	policy := NewBuilder().AddHeader("X-Seen", `{{ header "X-Origin" .message.headers }}`).Build()

	first := NewHTTPMessage("1", nil)
	first.Header.Set("X-Origin", "first")
	second := NewHTTPMessage("2", nil)

	require.NoError(t, policy.OnMessage(context.Background(), first))
	require.NoError(t, policy.OnMessage(context.Background(), second))

	assert.Equal(t, "first", first.Header.Get("X-Seen"))
	assert.Empty(t, second.Header.Values("X-Seen"))
}

func TestPolicy_OnMessage_WithRequest(t *testing.T) {
	policy := NewBuilder().AddHeader("X-Source", "{{ .request.path }}/{{ .context.attributes.tenant }}").Build()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	msg := NewHTTPMessage("1", nil)

	err := policy.OnMessage(context.Background(), msg,
		WithRequest(req), WithAttributes(map[string]interface{}{"tenant": "acme"}))

	require.NoError(t, err)
	assert.Equal(t, "/events/acme", msg.Header.Get("X-Source"))
}

func TestPolicy_OnMessage_Failure(t *testing.T) {
	policy := NewBuilder().AddHeader("X-Bad", "{{ .message.id | nope }}").Build()

	err := policy.OnMessage(context.Background(), NewHTTPMessage("1", nil))

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "Unable to apply headers transformation on message", failure.Message)
}

func TestPolicy_TransformMessages(t *testing.T) {
	policy := NewBuilder().AddHeader("X-Id", `{{ if eq .message.id "bad" }}{{ fail "rejected" }}{{ end }}{{ .message.id }}`).Build()

	in := make(chan Message)
	out := make(chan Message, 10)
	var mu sync.Mutex
	var interrupted []string

	go func() {
		for _, id := range []string{"a", "bad", "b", "c"} {
			in <- NewHTTPMessage(id, nil)
		}
		close(in)
	}()

	err := policy.TransformMessages(context.Background(), in, out, func(m Message, err error) {
		mu.Lock()
		defer mu.Unlock()
		interrupted = append(interrupted, m.ID())
	})
	require.NoError(t, err)
	close(out)

	var ids []string
	for m := range out {
		assert.Equal(t, m.ID(), m.(*HTTPMessage).Header.Get("X-Id"))
		ids = append(ids, m.ID())
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, []string{"bad"}, interrupted)
}

func TestPolicy_TransformMessages_Canceled(t *testing.T) {
	policy := NewBuilder().AddHeader("X-A", "a").Build()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan Message)

	done := make(chan error, 1)
	go func() { done <- policy.TransformMessages(ctx, in, make(chan Message), nil) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("TransformMessages did not return after cancellation")
	}
}
