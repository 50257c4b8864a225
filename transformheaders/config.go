package transformheaders

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scope selects the pipeline stage a legacy policy applies to
type Scope string

const (
	// ScopeRequest transforms request headers on the request stage (default)
	ScopeRequest Scope = "REQUEST"
	// ScopeResponse transforms response headers on the response stage
	ScopeResponse Scope = "RESPONSE"
	// ScopeRequestContent buffers the request body before transforming request headers
	ScopeRequestContent Scope = "REQUEST_CONTENT"
	// ScopeResponseContent buffers the response body before transforming response headers
	ScopeResponseContent Scope = "RESPONSE_CONTENT"
)

// Valid reports whether s is a known scope. The empty scope is valid and means ScopeRequest.
func (s Scope) Valid() bool {
	switch s {
	case "", ScopeRequest, ScopeResponse, ScopeRequestContent, ScopeResponseContent:
		return true
	}
	return false
}

// OrDefault returns ScopeRequest for the empty scope
func (s Scope) OrDefault() Scope {
	if s == "" {
		return ScopeRequest
	}
	return s
}

// HeaderEdit is a single header to set or append. Value holds an expression;
// a nil Value turns the edit into a no-op.
type HeaderEdit struct {
	Name  string  `json:"name" yaml:"name"`
	Value *string `json:"value" yaml:"value"`
}

// Skip reports whether the edit must be ignored without evaluating it
func (e HeaderEdit) Skip() bool {
	return isBlank(e.Name) || e.Value == nil
}

// Config describes the header edits of one policy instance
type Config struct {
	// Scope is only honored by the legacy policy
	Scope Scope `json:"scope,omitempty" yaml:"scope,omitempty"`
	// AddHeaders are applied with set semantics, replacing existing values
	AddHeaders []HeaderEdit `json:"addHeaders,omitempty" yaml:"addHeaders,omitempty"`
	// AppendHeaders add a value next to existing ones
	AppendHeaders []HeaderEdit `json:"appendHeaders,omitempty" yaml:"appendHeaders,omitempty"`
	// RemoveHeaders are literal header names, matched case-insensitively
	RemoveHeaders []string `json:"removeHeaders,omitempty" yaml:"removeHeaders,omitempty"`
	// WhitelistHeaders, when not empty, removes every header it does not name
	WhitelistHeaders []string `json:"whitelistHeaders,omitempty" yaml:"whitelistHeaders,omitempty"`
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := &Config{
		Scope:            c.Scope,
		AddHeaders:       cloneEdits(c.AddHeaders),
		AppendHeaders:    cloneEdits(c.AppendHeaders),
		RemoveHeaders:    append([]string(nil), c.RemoveHeaders...),
		WhitelistHeaders: append([]string(nil), c.WhitelistHeaders...),
	}
	return out
}

// IsEmpty reports whether applying the configuration is the identity transform
func (c *Config) IsEmpty() bool {
	return c == nil || (len(c.AddHeaders) == 0 && len(c.AppendHeaders) == 0 &&
		len(c.RemoveHeaders) == 0 && len(c.WhitelistHeaders) == 0)
}

func cloneEdits(edits []HeaderEdit) []HeaderEdit {
	if edits == nil {
		return nil
	}
	out := make([]HeaderEdit, len(edits))
	for i, e := range edits {
		out[i] = HeaderEdit{Name: e.Name}
		if e.Value != nil {
			v := *e.Value
			out[i].Value = &v
		}
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// LoadConfigFromFile loads configuration from a file (JSON or YAML)
func LoadConfigFromFile(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfig(file)
}

// LoadConfig decodes a configuration from r, trying YAML first and then JSON
func LoadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		config = Config{}
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config as YAML or JSON: %w", err)
		}
	}

	return &config, nil
}

// SaveConfigToFile saves configuration to a file
func SaveConfigToFile(config *Config, filename string, format string) error {
	data, err := MarshalConfig(config, format)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// MarshalConfig encodes config as "yaml" (or "yml") or "json"
func MarshalConfig(config *Config, format string) ([]byte, error) {
	var data []byte
	var err error

	switch format {
	case "yaml", "yml":
		data, err = yaml.Marshal(config)
	case "json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// ConfigBuilder helps build configurations programmatically
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: &Config{}}
}

// WithScope sets the legacy scope
func (cb *ConfigBuilder) WithScope(scope Scope) *ConfigBuilder {
	cb.config.Scope = scope
	return cb
}

// AddHeader adds a header edit with set semantics
func (cb *ConfigBuilder) AddHeader(name, value string) *ConfigBuilder {
	cb.config.AddHeaders = append(cb.config.AddHeaders, HeaderEdit{Name: name, Value: &value})
	return cb
}

// AppendHeader adds a header edit with append semantics
func (cb *ConfigBuilder) AppendHeader(name, value string) *ConfigBuilder {
	cb.config.AppendHeaders = append(cb.config.AppendHeaders, HeaderEdit{Name: name, Value: &value})
	return cb
}

// RemoveHeaders adds names to the remove list
func (cb *ConfigBuilder) RemoveHeaders(names ...string) *ConfigBuilder {
	cb.config.RemoveHeaders = append(cb.config.RemoveHeaders, names...)
	return cb
}

// WhitelistHeaders adds names to the allow-list
func (cb *ConfigBuilder) WhitelistHeaders(names ...string) *ConfigBuilder {
	cb.config.WhitelistHeaders = append(cb.config.WhitelistHeaders, names...)
	return cb
}

// Build returns the built configuration
func (cb *ConfigBuilder) Build() *Config {
	return cb.config
}

// ValidateConfig reports configuration errors. Blank names and nil values are
// not errors; the engine skips them.
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}
	if !config.Scope.Valid() {
		return fmt.Errorf("unknown scope: %q", config.Scope)
	}
	for i, name := range config.WhitelistHeaders {
		if isBlank(name) {
			return fmt.Errorf("whitelistHeaders[%d]: header name cannot be empty", i)
		}
	}
	return nil
}
