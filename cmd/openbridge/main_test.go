package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbridge/internal/config"
)

// isolate clears OPENAI_* variables and the package-level flag state.
func isolate(t *testing.T) {
	t.Helper()
	for _, name := range config.CapNames {
		t.Setenv(name, "")
	}
	configPath, logLevel, logFormat = "", "info", "text"
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigShow_MasksKey(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "OPENAI_API_KEY: sk-secret-abcdef123456\nOPENAI_MODEL: gpt-4o\nOPENAI_TOOLS: web_search_preview\n")

	out, err := execute(t, "", "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OPENAI_API_KEY: sk-s****3456")
	assert.NotContains(t, out, "sk-secret-abcdef123456")
	assert.Contains(t, out, "OPENAI_MODEL: gpt-4o")
	assert.Contains(t, out, "web_search_preview")
}

func TestConfigShow_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "OPENAI_API_KEY: sk-secret-abcdef123456\nOPENAI_MODEL: gpt-4o\n")
	t.Setenv(config.CapModel, "gpt-4.1")

	out, err := execute(t, "", "config", "show", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OPENAI_MODEL: gpt-4.1")
}

func TestConfig_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "config", "show", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDoctor_Offline(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "OPENAI_API_KEY: sk-secret-abcdef123456\nOPENAI_MODEL: gpt-4o\nOPENAI_STRUCTURED_OUTPUT: true\n")

	out, err := execute(t, "", "doctor", "--offline", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[PASS] Config validation")
	assert.Contains(t, out, "structured (strict schema)")
	assert.Contains(t, out, "[WARN] API reachable")
}

func TestDoctor_InvalidConfig(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "OPENAI_MODEL: gpt-4o\nOPENAI_ATTACHMENT_MODE: carrier-pigeon\n")

	out, err := execute(t, "", "validate", "--offline", "-c", path)
	require.Error(t, err)
	assert.Contains(t, out, "[FAIL] Config validation")
	assert.Contains(t, out, config.CapAPIKey)
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "sub", "bridge.yaml")
	// key, base url, model, system prompt, attachment mode, structured
	answers := "sk-wizard-1234567890\n\ngpt-4o\nBe brief.\n2\ny\n"

	_, err := execute(t, answers, "init", "-c", path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-wizard-1234567890", cfg.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "Be brief.", cfg.SystemPrompt)
	assert.Equal(t, config.ModeInline, cfg.AttachmentMode)
	assert.True(t, cfg.StructuredOutput)
	assert.Equal(t, config.DefaultBaseURL, cfg.BaseURL)

	_, err = execute(t, answers, "init", "-c", path)
	assert.Error(t, err, "refuses to overwrite without --force")
}

func TestInit_DefaultsKeepEnvReference(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	_, err := execute(t, "\n\n\n\n\n\n", "init", "-c", path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "${OPENAI_API_KEY}")
	assert.Contains(t, string(raw), "OPENAI_ATTACHMENT_MODE: upload")
}

func TestTurn_PrintsOutboundJSON(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"resp_1","output":[{"type":"message","content":[{"type":"output_text","text":"pong"}]}]}`)
	}))
	defer srv.Close()
	path := writeConfig(t, "OPENAI_API_KEY: sk-secret-abcdef123456\nOPENAI_MODEL: gpt-4o\nOPENAI_BASE_URL: "+srv.URL+"\n")

	out, err := execute(t, "", "turn", "-c", path, "--text", "ping")
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &msg))
	assert.Equal(t, "pong", msg["messageText"])
	assert.Equal(t, "bot", msg["sender"])
}

func TestTurn_ProviderError(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	path := writeConfig(t, "OPENAI_API_KEY: sk-secret-abcdef123456\nOPENAI_MODEL: gpt-4o\nOPENAI_BASE_URL: "+srv.URL+"\n")

	_, err := execute(t, "", "turn", "-c", path, "--text", "ping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestChat_QuitImmediately(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "OPENAI_API_KEY: sk-secret-abcdef123456\nOPENAI_MODEL: gpt-4o\n")

	out, err := execute(t, "/quit\n", "chat", "-c", path, "--spinner=false")
	require.NoError(t, err)
	assert.Contains(t, out, "openbridge chat")
}
