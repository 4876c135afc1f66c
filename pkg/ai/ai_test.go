package ai

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicobailon/surf-cli/pkg/retry"
)

func TestLoadCredentialsMissingFile(t *testing.T) {
	creds, hint := LoadCredentials(filepath.Join(t.TempDir(), "credentials.json"))
	assert.Nil(t, creds)
	assert.Contains(t, hint, "no credentials found")
}

func TestLoadCredentialsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	creds, hint := LoadCredentials(path)
	assert.Nil(t, creds)
	assert.Contains(t, hint, "not valid JSON")
}

func TestLoadCredentialsConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"openai_api_key": "sk-test",
		"perplexity_cookies": [{"name": "session", "value": "abc"}]
	}`), 0o600))

	creds, hint := LoadCredentials(path)
	require.NotNil(t, creds)
	assert.Empty(t, hint)
	assert.Equal(t, []string{BackendOpenAI, BackendPerplexity}, creds.Configured())

	assert.NoError(t, creds.Check(BackendOpenAI))
	assert.NoError(t, creds.Check(BackendPerplexity))
	assert.Error(t, creds.Check(BackendChatGPT))
	assert.Error(t, creds.Check("claude"))
}

func TestNilCredentialsCheck(t *testing.T) {
	var creds *Credentials
	assert.Error(t, creds.Check(BackendOpenAI))
	assert.Empty(t, creds.Configured())
}

func TestCleanHTML(t *testing.T) {
	raw := `<html><head><title>Example Page</title>
		<script>var x = "ignore me";</script>
		<style>.a { color: red }</style></head>
		<body><h1>Welcome</h1><p>First paragraph.</p>
		<noscript>js disabled</noscript>
		<div>Second <b>bold</b> block</div></body></html>`

	title, text := CleanHTML(raw)
	assert.Equal(t, "Example Page", title)
	assert.Contains(t, text, "Welcome")
	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "bold")
	assert.NotContains(t, text, "ignore me")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "js disabled")
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("what does this page sell?", &PageContext{
		URL:   "https://shop.example",
		Title: "Acme Shop",
		Text:  "Widgets and gadgets for sale",
	}, 1000)

	assert.Contains(t, prompt, "Acme Shop")
	assert.Contains(t, prompt, "https://shop.example")
	assert.Contains(t, prompt, "Widgets and gadgets")
	assert.True(t, strings.HasSuffix(prompt, "what does this page sell?"))
}

func TestBuildPromptNoContext(t *testing.T) {
	assert.Equal(t, "just a question", BuildPrompt("just a question", nil, 1000))
}

func TestBuildPromptTruncatesContext(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 5000)
	prompt := BuildPrompt("summarize", &PageContext{Text: long}, 50)
	assert.Less(t, len(prompt), len(long), "oversized context must be truncated")
	assert.True(t, strings.HasSuffix(prompt, "summarize"))
}

// stubBackend counts calls and fails a configurable number of times.
type stubBackend struct {
	name     string
	failures int
	calls    int
	answer   string
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Query(context.Context, string) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return "", &retry.StatusError{Code: 503}
	}
	return s.answer, nil
}

func testService(t *testing.T, credsJSON string) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	if credsJSON != "" {
		require.NoError(t, os.WriteFile(path, []byte(credsJSON), 0o600))
	}
	policy := retry.DefaultPolicy()
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	svc := NewService(Options{
		CredentialsPath: path,
		OpenAIModel:     "gpt-4o",
		Cooldown:        0,
		Retry:           policy,
		TokenBudget:     1000,
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestServiceValidateFailFast(t *testing.T) {
	svc := testService(t, "")

	err := svc.Validate(BackendOpenAI, "")
	assert.ErrorContains(t, err, "empty")

	err = svc.Validate("claude", "hi")
	assert.ErrorContains(t, err, "unknown AI backend")

	// Missing credentials include the remediation hint.
	err = svc.Validate(BackendOpenAI, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials found")
}

func TestServiceQueryRetriesThroughQueue(t *testing.T) {
	svc := testService(t, `{"openai_api_key": "sk-test"}`)

	stub := &stubBackend{name: BackendOpenAI, failures: 2, answer: "it sells widgets"}
	svc.Register(stub)

	answer, err := svc.Query(context.Background(), BackendOpenAI, "what?", nil)
	require.NoError(t, err)
	assert.Equal(t, "it sells widgets", answer)
	assert.Equal(t, 3, stub.calls, "two transient failures were retried")
}

func TestServiceQueryFailFastSkipsBackend(t *testing.T) {
	svc := testService(t, `{"openai_api_key": "sk-test"}`)

	stub := &stubBackend{name: BackendOpenAI, answer: "never"}
	svc.Register(stub)

	_, err := svc.Query(context.Background(), BackendOpenAI, "   ", nil)
	require.Error(t, err)
	assert.Zero(t, stub.calls, "empty query must not reach the backend")
}
