package input

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/pkg/notion"
)

// NotionConfig names the inbox database and its properties.
type NotionConfig struct {
	DatabaseID     string
	QueryProperty  string // title or rich_text holding the query
	StatusProperty string
	PendingStatus  string
	DoneStatus     string
}

// Item is one query read from the Notion inbox.
type Item struct {
	PageID string
	Query  string
}

// NotionSource reads pending queries from a Notion database and marks them
// done once a batch has handled them.
type NotionSource struct {
	client notion.Client
	cfg    NotionConfig
}

// NewNotionSource creates a NotionSource with default property names.
func NewNotionSource(client notion.Client, cfg NotionConfig) *NotionSource {
	if cfg.QueryProperty == "" {
		cfg.QueryProperty = "Name"
	}
	if cfg.StatusProperty == "" {
		cfg.StatusProperty = "Status"
	}
	if cfg.PendingStatus == "" {
		cfg.PendingStatus = "Queued"
	}
	if cfg.DoneStatus == "" {
		cfg.DoneStatus = "Done"
	}
	return &NotionSource{client: client, cfg: cfg}
}

// Pending returns the queued items in database order. Pages with an empty
// query are skipped.
func (s *NotionSource) Pending(ctx context.Context) ([]Item, error) {
	if s.cfg.DatabaseID == "" {
		return nil, eris.New("input: notion database id is required")
	}
	pages, err := notion.QueryByStatus(ctx, s.client, s.cfg.DatabaseID, s.cfg.StatusProperty, s.cfg.PendingStatus)
	if err != nil {
		return nil, eris.Wrap(err, "input: read notion inbox")
	}

	items := make([]Item, 0, len(pages))
	for _, p := range pages {
		q := notion.PageText(p, s.cfg.QueryProperty)
		if q == "" {
			continue
		}
		items = append(items, Item{PageID: pageID(p), Query: q})
	}
	return items, nil
}

// Queries returns the query strings of items.
func Queries(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Query
	}
	return out
}

// MarkDone flips every item to the done status. Failures are logged and
// counted; the first error is returned.
func (s *NotionSource) MarkDone(ctx context.Context, items []Item) (int, error) {
	var firstErr error
	done := 0
	for _, it := range items {
		if err := notion.SetStatus(ctx, s.client, it.PageID, s.cfg.StatusProperty, s.cfg.DoneStatus); err != nil {
			zap.L().Warn("input: mark notion item done", zap.String("page_id", it.PageID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done++
	}
	return done, firstErr
}

func pageID(p notionapi.Page) string {
	return string(p.ID)
}
