package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/pkg/anthropic"
)

const (
	defaultEnrichModel     = "claude-haiku-4-5-20251001"
	defaultEnrichMaxTokens = 1024
)

const extractSystemPrompt = `You turn research notes about one business into JSON. ` +
	`Reply with a single JSON object and nothing else, with keys: found (bool), name, status, ` +
	`address, hours, phones (array), emails (array), website, category, socials (object keyed ` +
	`by platform), decision_makers (array of {name, title, email}). Use empty strings or ` +
	`empty arrays for unknown values. Never invent data absent from the notes.`

// extraction is the JSON shape the enricher asks for.
type extraction struct {
	Found          *bool                 `json:"found"`
	Name           string                `json:"name"`
	Status         string                `json:"status"`
	Address        string                `json:"address"`
	Hours          string                `json:"hours"`
	Phones         []string              `json:"phones"`
	Emails         []string              `json:"emails"`
	Website        string                `json:"website"`
	Category       string                `json:"category"`
	Socials        map[string]string     `json:"socials"`
	DecisionMakers []model.DecisionMaker `json:"decision_makers"`
}

// ClaudeEnricher implements Enricher with an Anthropic model.
type ClaudeEnricher struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeEnricher creates an Enricher. Empty model uses the default.
func NewClaudeEnricher(client anthropic.Client, model string, maxTokens int64) *ClaudeEnricher {
	if model == "" {
		model = defaultEnrichModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultEnrichMaxTokens
	}
	return &ClaudeEnricher{client: client, model: model, maxTokens: maxTokens}
}

// Enrich extracts a Record from the search payload.
func (e *ClaudeEnricher) Enrich(ctx context.Context, p *Payload) (*Enrichment, error) {
	var notes strings.Builder
	fmt.Fprintf(&notes, "Query: %s\n\nNotes:\n%s\n", p.Query, p.Text)
	if len(p.Citations) > 0 {
		notes.WriteString("\nSources:\n")
		for _, c := range p.Citations {
			fmt.Fprintf(&notes, "- %s\n", c)
		}
	}

	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      extractSystemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: notes.String()}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); code != 0 {
			return nil, FromStatus(code, err)
		}
		return nil, fromTransport(err)
	}

	rec, err := parseExtraction(resp.Text())
	if err != nil {
		return nil, err
	}
	rec.SearchedTerm = p.Query
	if rec.SourceURI == "" && len(p.Citations) > 0 {
		rec.SourceURI = p.Citations[0]
	}
	enr := &Enrichment{
		Record:       rec,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if resp.StopReason == "max_tokens" {
		enr.Diagnostic = "extraction truncated at max tokens"
	}
	return enr, nil
}

// parseExtraction decodes the first JSON object in text into a Record.
func parseExtraction(text string) (model.Record, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return model.Record{}, malformed("lookup: no JSON object in extraction")
	}

	var x extraction
	if err := json.Unmarshal([]byte(text[start:end+1]), &x); err != nil {
		return model.Record{}, malformed("lookup: decode extraction: " + err.Error())
	}

	if x.Found != nil && !*x.Found {
		return model.Record{
			Name:    x.Name,
			Status:  model.StatusNotFound,
			Address: model.NoValue,
		}, nil
	}

	rec := model.Record{
		Name:           strings.TrimSpace(x.Name),
		Status:         strings.TrimSpace(x.Status),
		Address:        strings.TrimSpace(x.Address),
		Hours:          strings.TrimSpace(x.Hours),
		Phones:         x.Phones,
		Emails:         x.Emails,
		Website:        strings.TrimSpace(x.Website),
		Category:       strings.TrimSpace(x.Category),
		Socials:        x.Socials,
		DecisionMakers: x.DecisionMakers,
	}
	if rec.Address == "" {
		rec.Address = model.NoValue
	}
	if rec.Hours == "" {
		rec.Hours = model.NoValue
	}
	if len(rec.Socials) == 0 {
		rec.Socials = nil
	}
	rec.Normalize()
	return rec, nil
}
