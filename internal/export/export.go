// Package export writes enriched records to spreadsheet, CSV, JSON and
// Notion destinations.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Columns are the exported headers, in order.
var Columns = []string{
	"Nom",
	"Recherche",
	"Statut",
	"Adresse",
	"Horaires",
	"Téléphones",
	"Emails",
	"Site web",
	"Catégorie",
	"Réseaux sociaux",
	"Dirigeants",
	"Source",
	"Champ personnalisé",
}

// Row flattens rec into cells aligned with Columns.
func Row(rec model.Record) []string {
	return []string{
		rec.Name,
		rec.SearchedTerm,
		rec.Status,
		rec.Address,
		rec.Hours,
		strings.Join(rec.Phones, ", "),
		strings.Join(rec.Emails, ", "),
		rec.Website,
		rec.Category,
		socials(rec.Socials),
		decisionMakers(rec.DecisionMakers),
		rec.SourceURI,
		rec.CustomField,
	}
}

func socials(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, "\n")
}

func decisionMakers(dms []model.DecisionMaker) string {
	parts := make([]string, 0, len(dms))
	for _, dm := range dms {
		s := dm.Name
		if dm.Title != "" {
			s += " (" + dm.Title + ")"
		}
		if dm.Email != "" {
			s += " <" + dm.Email + ">"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// WriteFile writes records to path; the format follows the extension
// (.xlsx, .csv or .json).
func WriteFile(path string, records []model.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		err = WriteXLSX(f, "Résultats", records)
	case ".csv":
		err = WriteCSV(f, records)
	case ".json":
		err = WriteJSON(f, records)
	default:
		err = eris.Errorf("export: unsupported format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return eris.Wrap(f.Close(), "export: close file")
}

// WriteCSV writes records as ';'-separated CSV with a UTF-8 BOM so that
// spreadsheet software opens accents correctly.
func WriteCSV(w io.Writer, records []model.Record) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return eris.Wrap(err, "export: write bom")
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, rec := range records {
		if err := cw.Write(Row(rec)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []model.Record) error {
	if records == nil {
		records = []model.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(records), "export: encode json")
}

// Sink receives exported records one at a time.
type Sink interface {
	Export(ctx context.Context, rec model.Record) error
}

// ToSink sends every record to sink, stopping at the first error. It
// returns the number of records exported.
func ToSink(ctx context.Context, sink Sink, records []model.Record) (int, error) {
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return i, eris.Wrap(err, "export: cancelled")
		}
		if err := sink.Export(ctx, rec); err != nil {
			return i, eris.Wrapf(err, "export: record %d", i)
		}
	}
	return len(records), nil
}
