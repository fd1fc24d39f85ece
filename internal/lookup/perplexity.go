package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/pkg/perplexity"
)

const searchSystemPrompt = `You research French businesses. For the business the user names, ` +
	`report its exact trading name, whether it is open, permanently closed or cannot be found, ` +
	`its postal address, opening hours, every phone number and email address you can find, ` +
	`its official website, social media pages, business category, and the names, titles and ` +
	`emails of its managers or owners. Cite your sources. If you cannot identify the business, say so.`

// PerplexitySearcher implements Searcher on the Perplexity API.
type PerplexitySearcher struct {
	client perplexity.Client
}

// NewPerplexitySearcher creates a Searcher backed by client.
func NewPerplexitySearcher(client perplexity.Client) *PerplexitySearcher {
	return &PerplexitySearcher{client: client}
}

// Search runs one web-grounded completion for query.
func (s *PerplexitySearcher) Search(ctx context.Context, query string, st model.Strategy) (*Payload, error) {
	req := perplexity.ChatCompletionRequest{
		Model: st.Model,
		Messages: []perplexity.Message{
			{Role: "system", Content: searchSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Business: %s", query)},
		},
	}
	if st.SearchContext != "" {
		req.WebSearchOptions = &perplexity.WebSearchOptions{SearchContextSize: st.SearchContext}
	}

	resp, err := s.client.ChatCompletion(ctx, req)
	if err != nil {
		var se *perplexity.StatusError
		if errors.As(err, &se) {
			return nil, FromStatus(se.StatusCode, err)
		}
		return nil, fromTransport(err)
	}

	text := resp.Content()
	if text == "" {
		return nil, malformed("lookup: empty search answer")
	}

	citations := append([]string(nil), resp.Citations...)
	if len(citations) == 0 {
		for _, r := range resp.SearchResults {
			if r.URL != "" {
				citations = append(citations, r.URL)
			}
		}
	}
	return &Payload{
		Query:        query,
		Strategy:     st.Name,
		Text:         text,
		Citations:    citations,
		SearchTokens: resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
	}, nil
}
