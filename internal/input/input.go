// Package input reads batch query lists from text, CSV and XLSX files, from
// HTTP URLs, and from a Notion inbox database.
package input

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/normalize"
)

// headerNames are folded column titles recognised as the query column.
var headerNames = map[string]bool{
	"query":      true,
	"queries":    true,
	"requete":    true,
	"recherche":  true,
	"search":     true,
	"nom":        true,
	"name":       true,
	"entreprise": true,
	"business":   true,
	"societe":    true,
}

// ReadQueries loads queries from a local path or an http(s) URL. The format
// is chosen by extension: .csv, .xlsx, anything else is one query per line.
// Blank lines and lines starting with '#' are skipped. Duplicates are kept.
func ReadQueries(ctx context.Context, path string) ([]string, error) {
	if isURL(path) {
		local, cleanup, err := Download(ctx, path)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return readFile(ctx, local, extOf(path))
	}
	return readFile(ctx, path, extOf(path))
}

func readFile(ctx context.Context, path, ext string) ([]string, error) {
	switch ext {
	case ".csv":
		rows, err := ReadCSV(ctx, path)
		if err != nil {
			return nil, err
		}
		return QueriesFromRows(rows), nil
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		return QueriesFromRows(rows), nil
	default:
		return ReadText(path)
	}
}

// QueriesFromRows picks the query column from tabular rows. A first row
// whose cells name a known query column is treated as a header; otherwise
// the first column of every row is used.
func QueriesFromRows(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	col := 0
	start := 0
	for i, cell := range rows[0] {
		if headerNames[normalize.Fold(strings.TrimPrefix(cell, "\ufeff"))] {
			col, start = i, 1
			break
		}
	}

	var out []string
	for _, row := range rows[start:] {
		if col >= len(row) {
			continue
		}
		if q, ok := cleanLine(row[col]); ok {
			out = append(out, q)
		}
	}
	return out
}

func cleanLine(s string) (string, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	if s == "" || strings.HasPrefix(s, "#") {
		return "", false
	}
	return s, true
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func extOf(path string) string {
	if isURL(path) {
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
	}
	return strings.ToLower(filepath.Ext(path))
}

// ErrNoQueries is returned by NonEmpty when a source yields nothing.
var ErrNoQueries = eris.New("input: no queries found")

// NonEmpty returns ErrNoQueries when queries is empty.
func NonEmpty(queries []string) error {
	if len(queries) == 0 {
		return ErrNoQueries
	}
	return nil
}
