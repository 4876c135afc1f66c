package ai

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// scrapeTarget describes how to drive one chat web UI.
type scrapeTarget struct {
	url           string
	cookieDomain  string
	inputSelector string
	replySelector string
}

var chatGPTTarget = scrapeTarget{
	url:           "https://chatgpt.com/",
	cookieDomain:  ".chatgpt.com",
	inputSelector: "#prompt-textarea",
	replySelector: "[data-message-author-role=\"assistant\"]",
}

var perplexityTarget = scrapeTarget{
	url:           "https://www.perplexity.ai/",
	cookieDomain:  ".perplexity.ai",
	inputSelector: "textarea[placeholder]",
	replySelector: "[data-testid=\"answer\"], .prose",
}

const (
	scrapeNavigateTimeout = 45 * time.Second
	scrapeAnswerTimeout   = 120 * time.Second
	scrapePollInterval    = 2 * time.Second
)

// driver owns the shared Playwright instance. Started lazily on the
// first scraping request so brokers that only use the API backend never
// pay the browser startup cost.
type driver struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

var sharedDriver driver

func (d *driver) instance() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return d.pw, nil
	}

	// Output must be discarded: stdout belongs to the peer channel.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	d.pw = pw
	return pw, nil
}

// scrapeBackend answers prompts by driving a chat web UI in a headless
// browser authenticated with the user's exported cookies.
type scrapeBackend struct {
	name    string
	target  scrapeTarget
	cookies []Cookie
}

func newScrapeBackend(name string, target scrapeTarget, cookies []Cookie) *scrapeBackend {
	return &scrapeBackend{name: name, target: target, cookies: cookies}
}

func (b *scrapeBackend) Name() string { return b.name }

func (b *scrapeBackend) Query(ctx context.Context, prompt string) (string, error) {
	if len(b.cookies) == 0 {
		return "", fmt.Errorf("%s backend not configured", b.name)
	}

	pw, err := sharedDriver.instance()
	if err != nil {
		return "", err
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	bctx, err := browser.NewContext()
	if err != nil {
		return "", fmt.Errorf("create browser context: %w", err)
	}
	if err := bctx.AddCookies(b.playwrightCookies()); err != nil {
		return "", fmt.Errorf("inject cookies: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}

	if _, err := page.Goto(b.target.url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(scrapeNavigateTimeout.Milliseconds())),
	}); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", b.target.url, err)
	}

	input := page.Locator(b.target.inputSelector)
	if err := input.Fill(prompt); err != nil {
		return "", fmt.Errorf("fill prompt (is the session cookie still valid?): %w", err)
	}
	if err := input.Press("Enter"); err != nil {
		return "", fmt.Errorf("submit prompt: %w", err)
	}

	return b.awaitAnswer(ctx, page)
}

// awaitAnswer polls the newest reply node until its text stops growing.
// Chat UIs stream; a stable read on two consecutive polls means done.
func (b *scrapeBackend) awaitAnswer(ctx context.Context, page playwright.Page) (string, error) {
	deadline := time.Now().Add(scrapeAnswerTimeout)
	var last string
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(scrapePollInterval):
		}

		reply := page.Locator(b.target.replySelector).Last()
		text, err := reply.InnerText(playwright.LocatorInnerTextOptions{
			Timeout: playwright.Float(float64(scrapePollInterval.Milliseconds())),
		})
		if err != nil {
			continue // Answer node not rendered yet.
		}
		text = strings.TrimSpace(text)
		if text != "" && text == last {
			return text, nil
		}
		last = text
	}
	if last != "" {
		return last, nil
	}
	return "", fmt.Errorf("timed out waiting for %s answer (network or session issue)", b.name)
}

func (b *scrapeBackend) playwrightCookies() []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(b.cookies))
	for _, c := range b.cookies {
		domain := c.Domain
		if domain == "" {
			domain = b.target.cookieDomain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, playwright.OptionalCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: playwright.String(domain),
			Path:   playwright.String(path),
		})
	}
	return out
}
