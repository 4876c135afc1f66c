// Package ai provides the broker's AI backends: an OpenAI API client
// and two browser-automation clients that answer queries through chat
// web UIs using stored cookies. All backend calls are serialized
// through a task queue and wrapped in the retry policy.
package ai

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Backend names accepted at the tool boundary.
const (
	BackendOpenAI     = "openai"
	BackendChatGPT    = "chatgpt"
	BackendPerplexity = "perplexity"
)

// Cookie is one stored browser cookie for a scraping backend.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Credentials is the decoded ~/.surf/credentials.json.
type Credentials struct {
	OpenAIAPIKey      string   `json:"openai_api_key,omitempty"`
	ChatGPTCookies    []Cookie `json:"chatgpt_cookies,omitempty"`
	PerplexityCookies []Cookie `json:"perplexity_cookies,omitempty"`
}

// CredentialsPath returns the fixed per-user credential file location.
func CredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".surf", "credentials.json")
}

// LoadCredentials reads the credential file at path. A missing or
// unreadable file is not an error: it yields nil credentials plus a
// human-readable remediation hint.
func LoadCredentials(path string) (*Credentials, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Sprintf(
			"no credentials found at %s; create it with your openai_api_key and/or exported browser cookies (see surf auth --help)",
			path)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Sprintf(
			"credentials file %s is not valid JSON (%v); fix or regenerate it with surf auth", path, err)
	}
	return &creds, ""
}

// Configured lists the backends this credential set can drive, sorted
// for stable output.
func (c *Credentials) Configured() []string {
	if c == nil {
		return nil
	}
	var names []string
	if c.OpenAIAPIKey != "" {
		names = append(names, BackendOpenAI)
	}
	if len(c.ChatGPTCookies) > 0 {
		names = append(names, BackendChatGPT)
	}
	if len(c.PerplexityCookies) > 0 {
		names = append(names, BackendPerplexity)
	}
	sort.Strings(names)
	return names
}

// Check verifies the credential needed by the named backend is present.
func (c *Credentials) Check(backend string) error {
	switch backend {
	case BackendOpenAI:
		if c == nil || c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai backend requires openai_api_key in %s", CredentialsPath())
		}
	case BackendChatGPT:
		if c == nil || len(c.ChatGPTCookies) == 0 {
			return fmt.Errorf("chatgpt backend requires chatgpt_cookies in %s", CredentialsPath())
		}
	case BackendPerplexity:
		if c == nil || len(c.PerplexityCookies) == 0 {
			return fmt.Errorf("perplexity backend requires perplexity_cookies in %s", CredentialsPath())
		}
	default:
		return fmt.Errorf("unknown AI backend %q", backend)
	}
	return nil
}
