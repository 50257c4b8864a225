package transformheaders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVariables() *Variables {
	content := `{"user":{"id":"u-42","tier":"gold"}}`
	return &Variables{
		APIID:      "api-1",
		Attributes: map[string]interface{}{"plan": "premium"},
		Request: &RequestVars{
			ID:      "req-1",
			Method:  http.MethodPost,
			Path:    "/orders",
			Host:    "gw.local",
			Scheme:  "https",
			Headers: http.Header{"Authorization": {"Bearer abc123"}, "User-Agent": {"curl/8.4.0"}},
			Params:  url.Values{"page": {"2"}},
			Content: &content,
		},
		Response: &ResponseVars{
			Status:  http.StatusCreated,
			Headers: http.Header{"Content-Type": {"application/json"}},
		},
	}
}

func TestTemplateEngine_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		want       string
		wantOK     bool
		wantErr    bool
	}{
		{name: "literal", expression: "plain value", want: "plain value", wantOK: true},
		{name: "api id", expression: "{{ .context.apiId }}", want: "api-1", wantOK: true},
		{name: "attribute", expression: "{{ .context.attributes.plan }}", want: "premium", wantOK: true},
		{name: "request fields", expression: "{{ .request.method }} {{ .request.path }}", want: "POST /orders", wantOK: true},
		{name: "request id", expression: "{{ .request.id }}", want: "req-1", wantOK: true},
		{name: "query param", expression: `{{ .request.params.Get "page" }}`, want: "2", wantOK: true},
		{name: "header helper", expression: `{{ header "authorization" .request.headers | bearerToken }}`, want: "abc123", wantOK: true},
		{name: "json body", expression: `{{ jsonPath "user.tier" .request.content }}`, want: "gold", wantOK: true},
		{name: "response status", expression: "{{ .response.status }}", want: "201", wantOK: true},
		{name: "sprig function", expression: `{{ "abc" | upper }}`, want: "ABC", wantOK: true},
		{name: "default for missing", expression: `{{ .request.nothing | default "none" }}`, want: "none", wantOK: true},
		{name: "missing value", expression: "{{ .request.nothing }}", wantOK: false},
		{name: "missing json path", expression: `{{ jsonPath "user.missing" .request.content }}`, wantOK: false},
		{name: "absent message", expression: "{{ .message }}", wantOK: false},
		{name: "parse error", expression: "{{ .request.path ", wantErr: true},
		{name: "unknown function", expression: "{{ nope }}", wantErr: true},
		{name: "env is not available", expression: `{{ env "HOME" }}`, wantErr: true},
	}

	eval := NewTemplateEngine(16).Bind(testVariables())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := eval.Evaluate(context.Background(), tt.expression)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTemplateEngine_CachesCompiledTemplates(t *testing.T) {
	te := NewTemplateEngine(2)

	first, err := te.Compile("{{ .request.path }}")
	require.NoError(t, err)
	second, err := te.Compile("{{ .request.path }}")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = te.Compile("{{ .request.method }}")
	require.NoError(t, err)
	_, err = te.Compile("{{ .request.host }}")
	require.NoError(t, err)
	assert.Equal(t, 2, te.cache.Len())
}

func TestTemplateEngine_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewTemplateEngine(0).Bind(nil).Evaluate(ctx, "literal")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequestVars(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://gw.local/items?id=7", nil)
	req.Header.Set(RequestIDHeader, "rid")

	vars := NewRequestVars(req)

	assert.Equal(t, "rid", vars.ID)
	assert.Equal(t, "/items", vars.Path)
	assert.Equal(t, "gw.local", vars.Host)
	assert.Equal(t, "http", vars.Scheme)
	assert.Equal(t, "7", vars.Params.Get("id"))
	assert.Nil(t, vars.Content)
	assert.Nil(t, NewRequestVars(nil))
}

func TestEvaluationFunc(t *testing.T) {
	eval := EvaluationFunc(func(_ context.Context, expression string) (string, bool, error) {
		return expression + "!", true, nil
	})
	h := http.Header{}
	config := &Config{AddHeaders: []HeaderEdit{{Name: "X", Value: strPtr("hi")}}}

	_, err := NewEngine(config, AbortOnFailure).Apply(context.Background(), NewHTTPHeaders(h), eval)

	require.NoError(t, err)
	assert.Equal(t, "hi!", h.Get("X"))
}
