package transformheaders

import (
	"net/http"
	"testing"
)

func TestStringFunctions(t *testing.T) {
	tests := []struct {
		name      string
		transform func(string) string
		input     string
		expected  string
	}{
		{"Normalize", Normalize, "  MiXeD  ", "mixed"},
		{"SanitizeUserAgent", SanitizeUserAgent, "Mozilla/5.0 Chrome/120.0.6099.71", "Mozilla/x.x.x Chrome/x.x.x"},
		{"FormatTimestamp", FormatTimestamp, "0", "1970-01-01T00:00:00Z"},
		{"FormatTimestamp invalid", FormatTimestamp, "yesterday", "yesterday"},
		{"ParseTimestamp", ParseTimestamp, "1970-01-01T00:01:00Z", "60"},
		{"ParseTimestamp invalid", ParseTimestamp, "60", "60"},
		{"ExtractBearerToken", ExtractBearerToken, "Bearer  abc ", "abc"},
		{"ExtractBearerToken without prefix", ExtractBearerToken, "Basic abc", "Basic abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.transform(tt.input)
			if got != tt.expected {
				t.Errorf("%s(%q) = %q, want %q", tt.name, tt.input, got, tt.expected)
			}
		})
	}
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		show     int
		input    string
		expected string
	}{
		{2, "secret-token", "se********en"},
		{4, "short", "*****"},
		{-1, "abc", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := MaskSensitive(tt.show, tt.input); got != tt.expected {
				t.Errorf("MaskSensitive(%d, %q) = %q, want %q", tt.show, tt.input, got, tt.expected)
			}
		})
	}
}

func TestDocumentPaths(t *testing.T) {
	tests := []struct {
		name     string
		lookup   func(string, interface{}) interface{}
		path     string
		content  interface{}
		expected interface{}
	}{
		{"json value", JSONPath, "a.b", `{"a":{"b":"c"}}`, "c"},
		{"json number", JSONPath, "n", `{"n":12}`, "12"},
		{"json missing", JSONPath, "a.x", `{"a":{"b":"c"}}`, nil},
		{"json without content", JSONPath, "a", nil, nil},
		{"xml value", XMLPath, "order.id", `<order><id>42</id></order>`, "42"},
		{"xml element with attributes", XMLPath, "order.id", `<order><id type="n">42</id></order>`, "42"},
		{"xml missing", XMLPath, "order.none", `<order><id>42</id></order>`, nil},
		{"xml invalid", XMLPath, "order.id", `<order>`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lookup(tt.path, tt.content); got != tt.expected {
				t.Errorf("lookup(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestHeaderValue(t *testing.T) {
	h := http.Header{"X-Multi": {"a", "b"}}

	if got := HeaderValue("x-multi", h); got != "a,b" {
		t.Errorf("HeaderValue() = %v, want a,b", got)
	}
	if got := HeaderValue("x-none", h); got != nil {
		t.Errorf("HeaderValue() = %v, want nil", got)
	}
	if got := HeaderValue("x-multi", "not headers"); got != nil {
		t.Errorf("HeaderValue() = %v, want nil", got)
	}
}

func TestFuncMap_WithoutEnvironment(t *testing.T) {
	fm := funcMap()
	for _, name := range []string{"env", "expandenv"} {
		if _, ok := fm[name]; ok {
			t.Errorf("funcMap() exposes %s", name)
		}
	}
	for _, name := range []string{"jsonPath", "xmlPath", "header", "mask", "upper"} {
		if _, ok := fm[name]; !ok {
			t.Errorf("funcMap() is missing %s", name)
		}
	}
}
