package aitag

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	response string
	err      error
	gotUser  string
}

func (f *fakeCompleter) Complete(_ context.Context, _, _, user string) (string, error) {
	f.gotUser = user
	return f.response, f.err
}

func TestSuggest(t *testing.T) {
	fake := &fakeCompleter{response: `["golang", "testing", "notes"]`}
	s := NewSuggester(fake, "test-model", zerolog.Nop())

	tags, err := s.Suggest(context.Background(), "wrote table tests today", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "testing", "notes"}, tags)
	assert.Contains(t, fake.gotUser, "wrote table tests today")
}

func TestSuggest_CapsAtMax(t *testing.T) {
	fake := &fakeCompleter{response: `["a", "b", "c", "d"]`}
	s := NewSuggester(fake, "test-model", zerolog.Nop())

	tags, err := s.Suggest(context.Background(), "content", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)
}

func TestSuggest_EmptyContent(t *testing.T) {
	s := NewSuggester(&fakeCompleter{}, "test-model", zerolog.Nop())
	_, err := s.Suggest(context.Background(), "  ", 5)
	assert.Error(t, err)
}

func TestSuggest_ProviderError(t *testing.T) {
	fake := &fakeCompleter{err: assert.AnError}
	s := NewSuggester(fake, "test-model", zerolog.Nop())
	_, err := s.Suggest(context.Background(), "content", 5)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "plain array",
			raw:  `["go", "sqlite"]`,
			want: []string{"go", "sqlite"},
		},
		{
			name: "code fence",
			raw:  "```json\n[\"go\", \"sqlite\"]\n```",
			want: []string{"go", "sqlite"},
		},
		{
			name: "surrounding prose",
			raw:  `Here are the tags: ["go"] hope that helps`,
			want: []string{"go"},
		},
		{
			name: "normalizes case and dedupes",
			raw:  `["Go", "go", " SQLite "]`,
			want: []string{"go", "sqlite"},
		},
		{
			name: "drops empties",
			raw:  `["", "go"]`,
			want: []string{"go"},
		},
		{
			name:    "not an array",
			raw:     `just some text`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTags(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
