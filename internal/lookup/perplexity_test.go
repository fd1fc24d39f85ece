package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/pkg/perplexity"
)

func TestPerplexitySearcher_Search(t *testing.T) {
	var got perplexity.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "x",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Boulangerie Paul, 12 rue de Rivoli"}}],
			"search_results": [{"title": "Paul", "url": "https://paul.fr"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 70}
		}`))
	}))
	defer srv.Close()

	s := NewPerplexitySearcher(perplexity.NewClient("key", perplexity.WithBaseURL(srv.URL)))
	st := model.Strategy{Name: "deep", Cost: 3, SearchContext: "high"}

	p, err := s.Search(context.Background(), "boulangerie paul paris", st)
	require.NoError(t, err)

	assert.Equal(t, "boulangerie paul paris", p.Query)
	assert.Equal(t, "deep", p.Strategy)
	assert.Contains(t, p.Text, "Boulangerie Paul")
	assert.Equal(t, []string{"https://paul.fr"}, p.Citations)
	assert.Equal(t, 100, p.SearchTokens)

	require.NotNil(t, got.WebSearchOptions)
	assert.Equal(t, "high", got.WebSearchOptions.SearchContextSize)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "boulangerie paul paris")
}

func TestPerplexitySearcher_StatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	s := NewPerplexitySearcher(perplexity.NewClient("key", perplexity.WithBaseURL(srv.URL)))
	_, err := s.Search(context.Background(), "q", model.Strategy{Name: "standard"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, resilience.IsTransient(err))
}

func TestPerplexitySearcher_EmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	s := NewPerplexitySearcher(perplexity.NewClient("key", perplexity.WithBaseURL(srv.URL)))
	_, err := s.Search(context.Background(), "q", model.Strategy{Name: "standard"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, resilience.KindValidationFailure, resilience.Classify(err))
}
