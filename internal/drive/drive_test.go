package drive

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeDrive struct {
	files    []*File
	contents map[string][]byte
	failID   string
	folders  map[string]string
	listed   string
}

func (f *fakeDrive) ListFiles(ctx context.Context, folderID string) ([]*File, error) {
	f.listed = folderID
	return f.files, nil
}

func (f *fakeDrive) FindFolderByPath(ctx context.Context, path string) (string, error) {
	id, ok := f.folders[path]
	if !ok {
		return "", errors.New("folder not found: " + path)
	}
	return id, nil
}

func (f *fakeDrive) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	if fileID == f.failID {
		return errors.New("quota exceeded")
	}
	_, err := w.Write(f.contents[fileID])
	return err
}

func xlsxBytes(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestFetchCSVAndXLSX(t *testing.T) {
	fake := &fakeDrive{
		files: []*File{
			{ID: "new-sales", Name: "Sales.xlsx"},
			{ID: "old-sales", Name: "sales.csv"},
			{ID: "products", Name: "products.csv"},
			{ID: "notes", Name: "readme.txt"},
		},
		contents: map[string][]byte{
			"new-sales": xlsxBytes(t, [][]interface{}{
				{"order_date", "product_id", "quantity", "unit_price"},
				{"2024-03-01", 1, 5},
			}),
			"old-sales": []byte("order_date,product_id,quantity\n"),
			"products":  []byte("id,qty_available\n1,3\n"),
		},
	}
	dir := t.TempDir()

	paths, err := NewFetcher(fake).Fetch(context.Background(), FetchOptions{
		FolderID:    "exports",
		DownloadDir: dir,
		Names:       []string{"sales.csv", "products.csv"},
	})
	require.NoError(t, err)
	require.Len(t, paths, 2)

	sales := readCSV(t, paths[0])
	require.Len(t, sales, 2)
	assert.Equal(t, []string{"order_date", "product_id", "quantity", "unit_price"}, sales[0])
	assert.Equal(t, []string{"2024-03-01", "1", "5", ""}, sales[1])

	assert.Equal(t, [][]string{{"id", "qty_available"}, {"1", "3"}}, readCSV(t, paths[1]))

	_, err = os.Stat(filepath.Join(dir, "sales.xlsx"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchMissingAndFailures(t *testing.T) {
	fake := &fakeDrive{files: []*File{{ID: "p", Name: "products.csv"}}, failID: "p"}
	dir := t.TempDir()

	_, err := NewFetcher(fake).Fetch(context.Background(), FetchOptions{FolderID: "exports", DownloadDir: dir, Names: []string{"sales.csv"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales.csv")

	_, err = NewFetcher(fake).Fetch(context.Background(), FetchOptions{FolderID: "exports", DownloadDir: dir, Names: []string{"products.csv"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	_, statErr := os.Stat(filepath.Join(dir, "products.csv"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = NewFetcher(fake).Fetch(context.Background(), FetchOptions{Names: []string{"products.csv"}})
	assert.Error(t, err)
}

func TestFetchResolvesFolderPath(t *testing.T) {
	fake := &fakeDrive{
		files:    []*File{{ID: "p", Name: "products.csv"}},
		contents: map[string][]byte{"p": []byte("id,qty_available\n1,3\n")},
		folders:  map[string]string{"Shared/forecast": "folder-42"},
	}
	dir := t.TempDir()

	paths, err := NewFetcher(fake).Fetch(context.Background(), FetchOptions{
		FolderPath:  "Shared/forecast",
		DownloadDir: dir,
		Names:       []string{"products.csv"},
	})
	require.NoError(t, err)
	assert.Len(t, paths, 1)
	assert.Equal(t, "folder-42", fake.listed)

	_, err = NewFetcher(fake).Fetch(context.Background(), FetchOptions{
		FolderID:    "explicit",
		FolderPath:  "Shared/forecast",
		DownloadDir: dir,
		Names:       []string{"products.csv"},
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit", fake.listed)

	_, err = NewFetcher(fake).Fetch(context.Background(), FetchOptions{
		FolderPath:  "Shared/missing",
		DownloadDir: dir,
		Names:       []string{"products.csv"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Shared/missing")

	_, err = NewFetcher(fake).Fetch(context.Background(), FetchOptions{DownloadDir: dir, Names: []string{"products.csv"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "folder id or path is required")
}

func TestConvertXLSXSkipsBlankRows(t *testing.T) {
	dir := t.TempDir()
	xlsxPath := filepath.Join(dir, "levels.xlsx")
	require.NoError(t, os.WriteFile(xlsxPath, xlsxBytes(t, [][]interface{}{
		{"product_id", "as_of_date", "quantity_on_hand"},
		{},
		{2, "2024-03-01", 4, "extra"},
	}), 0o644))

	csvPath := filepath.Join(dir, "levels.csv")
	require.NoError(t, convertXLSXToCSV(xlsxPath, csvPath))
	assert.Equal(t, [][]string{
		{"product_id", "as_of_date", "quantity_on_hand"},
		{"2", "2024-03-01", "4"},
	}, readCSV(t, csvPath))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
	assert.Equal(t, "stock_levels", stem("Stock_Levels.XLSX"))
	assert.True(t, isXLSX("a.XLSX"))
	assert.Equal(t, []string{"a", ""}, fitWidth([]string{"a"}, 2))
	assert.Equal(t, []string{"a"}, fitWidth([]string{"a", "b"}, 1))
	assert.True(t, blank([]string{" ", ""}))
}

func TestNewServiceRequiresCredentials(t *testing.T) {
	_, err := NewService(context.Background(), "")
	assert.Error(t, err)

	_, err = NewService(context.Background(), "{not json")
	assert.Error(t, err)
}
