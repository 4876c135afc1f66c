package ai

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const promptEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(promptEncoding)
	})
	return enc, encErr
}

// CountTokens returns the token count of text, falling back to a
// character-based estimate when the tokenizer is unavailable.
func CountTokens(text string) int {
	e, err := encoder()
	if err != nil {
		return len(text) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// truncateToTokens trims text to at most budget tokens.
func truncateToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	e, err := encoder()
	if err != nil {
		if len(text) > budget*4 {
			return text[:budget*4]
		}
		return text
	}
	tokens := e.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return e.Decode(tokens[:budget])
}

// BuildPrompt assembles the composite prompt sent to a backend: the
// user's query, optionally preceded by cleaned page context bounded by
// the token budget so oversized pages cannot sink the request.
func BuildPrompt(query string, page *PageContext, tokenBudget int) string {
	if page == nil {
		return query
	}

	var b strings.Builder
	b.WriteString("You are looking at the following web page.\n\n")
	if page.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", page.Title)
	}
	if page.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", page.URL)
	}
	if page.Text != "" {
		b.WriteString("\nPage content:\n")
		b.WriteString(truncateToTokens(page.Text, tokenBudget))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(query)
	return b.String()
}
