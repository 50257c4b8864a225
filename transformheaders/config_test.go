package transformheaders

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	tests := []struct {
		file   string
		verify func(t *testing.T, c *Config)
	}{
		{
			file: "set-and-remove.yaml",
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, Scope(""), c.Scope)
				require.Len(t, c.AddHeaders, 2)
				assert.Equal(t, "X-Gateway", c.AddHeaders[0].Name)
				assert.Equal(t, "edge-1", *c.AddHeaders[0].Value)
				assert.Equal(t, []string{"X-Internal-Token"}, c.RemoveHeaders)
			},
		},
		{
			file: "append.json",
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, ScopeResponse, c.Scope)
				require.Len(t, c.AppendHeaders, 2)
				assert.Equal(t, "headerValue2", *c.AppendHeaders[1].Value)
			},
		},
		{
			file: "whitelist.yaml",
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, ScopeRequestContent, c.Scope)
				require.Len(t, c.AddHeaders, 2)
				assert.Nil(t, c.AddHeaders[1].Value)
				assert.True(t, c.AddHeaders[1].Skip())
				assert.Equal(t, []string{"X-Order-Id", "Content-Type"}, c.WhitelistHeaders)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			c, err := LoadConfigFromFile(filepath.Join("testdata", tt.file))
			require.NoError(t, err)
			require.NoError(t, ValidateConfig(c))
			tt.verify(t, c)
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(strings.NewReader("addHeaders: [unterminated"))
	assert.Error(t, err)

	c, err := LoadConfigFromFile(filepath.Join("testdata", "invalid-scope.yaml"))
	require.NoError(t, err)
	assert.ErrorContains(t, ValidateConfig(c), "unknown scope")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil", config: nil, wantErr: true},
		{name: "empty", config: &Config{}},
		{name: "blank add name is a no-op", config: &Config{AddHeaders: []HeaderEdit{{Name: " "}}}},
		{name: "blank whitelist entry", config: &Config{WhitelistHeaders: []string{"X-A", ""}}, wantErr: true},
		{name: "unknown scope", config: &Config{Scope: "BODY"}, wantErr: true},
		{name: "content scope", config: &Config{Scope: ScopeResponseContent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveConfigToFile(t *testing.T) {
	config := NewConfigBuilder().
		WithScope(ScopeResponse).
		AddHeader("X-A", "a").
		AppendHeader("X-B", "b").
		RemoveHeaders("X-C").
		WhitelistHeaders("X-A", "X-B").
		Build()

	for _, format := range []string{"yaml", "json"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy."+format)
			require.NoError(t, SaveConfigToFile(config, path, format))

			loaded, err := LoadConfigFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, config, loaded)
		})
	}

	assert.Error(t, SaveConfigToFile(config, filepath.Join(t.TempDir(), "policy.toml"), "toml"))
}

func TestConfig_Clone(t *testing.T) {
	original := NewConfigBuilder().AddHeader("X-A", "a").RemoveHeaders("X-B").Build()
	clone := original.Clone()

	*clone.AddHeaders[0].Value = "changed"
	clone.RemoveHeaders[0] = "X-Changed"

	assert.Equal(t, "a", *original.AddHeaders[0].Value)
	assert.Equal(t, "X-B", original.RemoveHeaders[0])
	assert.Equal(t, &Config{}, (*Config)(nil).Clone())
}

func TestConfig_IsEmpty(t *testing.T) {
	assert.True(t, (*Config)(nil).IsEmpty())
	assert.True(t, (&Config{Scope: ScopeResponse}).IsEmpty())
	assert.False(t, NewConfigBuilder().RemoveHeaders("X").Build().IsEmpty())
}

func TestScope(t *testing.T) {
	assert.Equal(t, ScopeRequest, Scope("").OrDefault())
	assert.Equal(t, ScopeResponse, ScopeResponse.OrDefault())
	assert.True(t, Scope("").Valid())
	assert.False(t, Scope("request").Valid())
}
