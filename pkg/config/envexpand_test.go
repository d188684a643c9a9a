package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "api_key: {{.API_KEY}}",
			env:   map[string]string{"API_KEY": "secret123"},
			want:  "api_key: secret123",
		},
		{
			name:  "literal ${VAR} is NOT expanded (no collision)",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "literal $VAR is NOT expanded (no collision)",
			input: "regex: ^secret.*$",
			env:   map[string]string{},
			want:  "regex: ^secret.*$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "url: {{.PROTOCOL}}://{{.HOST}}:{{.PORT}}",
			env: map[string]string{
				"PROTOCOL": "https",
				"HOST":     "example.com",
				"PORT":     "443",
			},
			want: "url: https://example.com:443",
		},
		{
			name:  "missing variable expands to empty",
			input: "endpoint: {{.MISSING_VAR}}",
			env:   map[string]string{},
			want:  "endpoint: ",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
		{
			name:  "variables in nested YAML structure",
			input: "storage:\n  blob_service_url: {{.BLOB_URL}}\n  queue_service_url: {{.QUEUE_URL}}",
			env: map[string]string{
				"BLOB_URL":  "https://acct.blob.core.windows.net",
				"QUEUE_URL": "https://acct.queue.core.windows.net",
			},
			want: "storage:\n  blob_service_url: https://acct.blob.core.windows.net\n  queue_service_url: https://acct.queue.core.windows.net",
		},
		{
			name:  "special characters in expanded value",
			input: "password: {{.PASSWORD}}",
			env:   map[string]string{"PASSWORD": "p@ssw0rd!#$%"},
			want:  "password: p@ssw0rd!#$%",
		},
		{
			name:  "literal dollar preserved",
			input: "password: p@ss$word",
			env:   map[string]string{},
			want:  "password: p@ss$word",
		},
		{
			name:  "variable in quoted string",
			input: `message: "Hello {{.NAME}}"`,
			env:   map[string]string{"NAME": "World"},
			want:  `message: "Hello World"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

func TestExpandEnvPreservesOriginalWhenNoVariables(t *testing.T) {
	input := `
# This is a comment
key: value
nested:
  field: "string value"
  number: 123
array:
  - item1
  - item2
`
	result := ExpandEnv([]byte(input))
	assert.Equal(t, input, string(result), "Content without variables should be unchanged")
}

// Malformed template syntax is passed through unchanged so the YAML
// parser can surface a clearer error, and environment values never leak
// into content that failed to parse.
func TestExpandEnvMalformedTemplates(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unclosed template", "api_key: {{.API_KEY"},
		{"only opening braces", "api_key: {{"},
		{"missing dot", "api_key: {{API_KEY}}"},
		{"space in variable name", "api_key: {{.API KEY}}"},
		{"undefined function", `api_key: {{.API_KEY | upper}}`},
		{"unclosed in valid YAML", "host: localhost\napi_key: {{.API_KEY\nport: 8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("API_KEY", "should-not-appear")

			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.input, string(result), "malformed template passed through unchanged")
			assert.NotContains(t, string(result), "should-not-appear")
		})
	}
}

func TestExpandEnvPassThroughToYAMLParser(t *testing.T) {
	input := `
host: localhost
api_key: "{{.API_KEY"
port: 8080
`
	expanded := ExpandEnv([]byte(input))

	var result map[string]any
	assert.NoError(t, yaml.Unmarshal(expanded, &result),
		"malformed template treated as string literal, YAML still parses")
	assert.NotNil(t, result)
}
