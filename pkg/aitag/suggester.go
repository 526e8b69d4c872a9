package aitag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const systemPrompt = `You suggest tags for personal memos.
Respond with a JSON array of lowercase tag strings and nothing else.
Tags are short (1-3 words), concrete, and describe the memo's topic.`

// DefaultMaxTags caps suggestions when the caller asks for no limit
const DefaultMaxTags = 5

// Suggester asks an LLM for tag suggestions
type Suggester struct {
	completer Completer
	model     string
	logger    zerolog.Logger
}

// NewSuggester wires a suggester over a completer
func NewSuggester(completer Completer, model string, logger zerolog.Logger) *Suggester {
	return &Suggester{completer: completer, model: model, logger: logger}
}

// Suggest returns up to max tags for the content
func (s *Suggester) Suggest(ctx context.Context, content string, max int) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content must not be empty")
	}
	if max <= 0 {
		max = DefaultMaxTags
	}

	user := fmt.Sprintf("Suggest at most %d tags for this memo:\n\n%s", max, content)
	raw, err := s.completer.Complete(ctx, s.model, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("tag suggestion failed: %w", err)
	}

	tags, err := parseTags(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("response", raw).Msg("Unparseable tag suggestion response")
		return nil, err
	}
	if len(tags) > max {
		tags = tags[:max]
	}
	return tags, nil
}

// parseTags extracts the JSON array, tolerating markdown code fences and
// surrounding prose
func parseTags(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "["); i >= 0 {
		if j := strings.LastIndex(raw, "]"); j > i {
			raw = raw[i : j+1]
		}
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to parse tag suggestions: %w", err)
	}

	cleaned := make([]string, 0, len(tags))
	seen := make(map[string]struct{})
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		cleaned = append(cleaned, tag)
	}
	return cleaned, nil
}
