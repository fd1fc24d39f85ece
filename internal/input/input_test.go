package input

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Feuil1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "queries.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadQueries_Text(t *testing.T) {
	path := writeFile(t, "q.txt", "\ufeffBoulangerie Paul Lyon\n\n# comment\n  Garage Martin  \nBoulangerie Paul Lyon\n")

	got, err := ReadQueries(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Boulangerie Paul Lyon", "Garage Martin", "Boulangerie Paul Lyon"}, got)
}

func TestReadQueries_CSVWithHeader(t *testing.T) {
	path := writeFile(t, "q.csv", "ville;Requête\nLyon;Boulangerie Paul\nParis; Garage Martin \nNice;\n")

	got, err := ReadQueries(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Boulangerie Paul", "Garage Martin"}, got)
}

func TestReadQueries_CSVWithoutHeader(t *testing.T) {
	path := writeFile(t, "q.csv", "Boulangerie Paul,Lyon\n\"Garage, Martin\",Paris\n")

	got, err := ReadQueries(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Boulangerie Paul", "Garage, Martin"}, got)
}

func TestReadQueries_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"Nom", "Ville"},
		{"Boulangerie Paul", "Lyon"},
		{"", ""},
		{"Garage Martin", "Paris"},
	})

	got, err := ReadQueries(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Boulangerie Paul", "Garage Martin"}, got)
}

func TestReadQueries_MissingFile(t *testing.T) {
	_, err := ReadQueries(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input: open")
}

func TestReadQueries_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ".csv"))
		_, _ = w.Write([]byte("query\nBoulangerie Paul\n"))
	}))
	defer srv.Close()

	got, err := ReadQueries(context.Background(), srv.URL+"/list.csv?token=x")
	require.NoError(t, err)
	assert.Equal(t, []string{"Boulangerie Paul"}, got)
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := Download(context.Background(), srv.URL+"/q.txt")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestQueriesFromRows(t *testing.T) {
	assert.Nil(t, QueriesFromRows(nil))
	assert.Equal(t, []string{"a", "b"}, QueriesFromRows([][]string{{"a"}, {"b", "x"}}))
	assert.Equal(t, []string{"b"}, QueriesFromRows([][]string{{"x", "Name"}, {"a"}, {"c", "b"}}))
}

func TestNonEmpty(t *testing.T) {
	assert.ErrorIs(t, NonEmpty(nil), ErrNoQueries)
	assert.NoError(t, NonEmpty([]string{"a"}))
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{Delimiter: ','})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: context cancelled")
}
