package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nicobailon/surf-cli/pkg/logging"
	"github.com/nicobailon/surf-cli/pkg/retry"
	"github.com/nicobailon/surf-cli/pkg/taskqueue"
)

// Backend answers a fully-assembled prompt.
type Backend interface {
	Name() string
	Query(ctx context.Context, prompt string) (string, error)
}

// Options configures a Service.
type Options struct {
	CredentialsPath string
	OpenAIModel     string
	Cooldown        time.Duration
	Retry           retry.Policy
	TokenBudget     int
}

// Service owns the registered backends, the serialized task queue, and
// the retry policy. It is the only path through which AI requests run.
type Service struct {
	log      *logging.Logger
	queue    *taskqueue.Queue[string]
	policy   retry.Policy
	budget   int
	creds    *Credentials
	hint     string
	backends map[string]Backend
}

// NewService loads credentials and registers the stock backends. A
// missing credential file still yields a working service; requests for
// unconfigured backends fail fast with the remediation hint.
func NewService(opts Options) *Service {
	path := opts.CredentialsPath
	if path == "" {
		path = CredentialsPath()
	}
	creds, hint := LoadCredentials(path)

	s := &Service{
		log:      logging.New("ai"),
		queue:    taskqueue.New[string](opts.Cooldown),
		policy:   opts.Retry,
		budget:   opts.TokenBudget,
		creds:    creds,
		hint:     hint,
		backends: make(map[string]Backend),
	}

	s.Register(newOpenAIBackend(creds, opts.OpenAIModel))
	s.Register(newScrapeBackend(BackendChatGPT, chatGPTTarget, cookiesFor(creds, BackendChatGPT)))
	s.Register(newScrapeBackend(BackendPerplexity, perplexityTarget, cookiesFor(creds, BackendPerplexity)))
	return s
}

func cookiesFor(creds *Credentials, backend string) []Cookie {
	if creds == nil {
		return nil
	}
	if backend == BackendChatGPT {
		return creds.ChatGPTCookies
	}
	return creds.PerplexityCookies
}

// Register adds or replaces a backend by name.
func (s *Service) Register(b Backend) {
	s.backends[b.Name()] = b
}

// Credentials exposes the decoded credential set (possibly nil) and the
// remediation hint for the auth lookup reply.
func (s *Service) Credentials() (*Credentials, string) {
	return s.creds, s.hint
}

// Validate fails fast for requests that must never reach the queue or
// the peer: unknown backends, missing credentials, empty queries.
func (s *Service) Validate(backend, query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query must not be empty")
	}
	if _, ok := s.backends[backend]; !ok {
		return fmt.Errorf("unknown AI backend %q", backend)
	}
	if err := s.creds.Check(backend); err != nil {
		if s.hint != "" {
			return fmt.Errorf("%v (%s)", err, s.hint)
		}
		return err
	}
	return nil
}

// Query assembles the prompt and runs it on the named backend through
// the serialized queue, retrying classified-transient failures.
func (s *Service) Query(ctx context.Context, backend, query string, page *PageContext) (string, error) {
	if err := s.Validate(backend, query); err != nil {
		return "", err
	}
	b := s.backends[backend]
	prompt := BuildPrompt(query, page, s.budget)

	s.log.Debugf("queueing %s request (%d prompt tokens)", backend, CountTokens(prompt))
	return s.queue.Submit(ctx, func(ctx context.Context) (string, error) {
		return retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
			answer, err := b.Query(ctx, prompt)
			if err != nil {
				s.log.Warnf("%s request failed: %v", backend, err)
			}
			return answer, err
		})
	})
}

// Close stops the task queue.
func (s *Service) Close() {
	s.queue.Close()
}
