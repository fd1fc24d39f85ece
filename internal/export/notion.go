package export

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/pkg/notion"
)

// NotionSink creates one row per record in a Notion database whose
// properties are named like Columns. "Nom" must be the title property.
type NotionSink struct {
	client notion.Client
	dbID   string
}

// NewNotionSink creates a Sink writing to database dbID.
func NewNotionSink(client notion.Client, dbID string) *NotionSink {
	return &NotionSink{client: client, dbID: dbID}
}

// Export creates the row for rec.
func (s *NotionSink) Export(ctx context.Context, rec model.Record) error {
	_, err := notion.CreateRow(ctx, s.client, s.dbID, Properties(rec))
	return err
}

// Properties maps rec onto Notion page properties. Empty cells are omitted.
func Properties(rec model.Record) notionapi.Properties {
	cells := Row(rec)
	props := notionapi.Properties{
		Columns[0]: notion.TitleValue(cells[0]),
	}
	for i := 1; i < len(Columns); i++ {
		v := strings.TrimSpace(cells[i])
		if v == "" {
			continue
		}
		switch Columns[i] {
		case "Site web", "Source":
			props[Columns[i]] = notion.URLValue(v)
		default:
			props[Columns[i]] = notion.TextValue(v)
		}
	}
	return props
}
