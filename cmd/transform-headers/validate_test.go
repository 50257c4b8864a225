package main

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPolicyFile(t *testing.T, path string) {
	t.Helper()
	prev := viper.GetString("policy")
	viper.Set("policy", path)
	t.Cleanup(func() { viper.Set("policy", prev) })
}

func TestValidateCmd(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		args    []string
		want    string
		wantErr bool
	}{
		{
			name: "yaml",
			file: "testdata/policy.yaml",
			want: "scope: RESPONSE\n",
		},
		{
			name: "json",
			file: "testdata/policy.yaml",
			args: []string{"--format", "json"},
			want: `"removeHeaders": [`,
		},
		{name: "invalid scope", file: "testdata/broken.yaml", wantErr: true},
		{name: "missing file", file: "testdata/nope.yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withPolicyFile(t, tt.file)
			var out bytes.Buffer
			cmd := newValidateCmd()
			cmd.SetOut(&out)
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}
