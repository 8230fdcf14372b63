package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// FileStore is the part of Service the fetcher needs.
type FileStore interface {
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
	FindFolderByPath(ctx context.Context, path string) (string, error)
}

// FetchOptions controls which exports are pulled and where they land.
type FetchOptions struct {
	FolderID string
	// FolderPath is resolved from the Drive root when FolderID is empty.
	FolderPath  string
	DownloadDir string
	// Names are the CSV file names to produce, e.g. "sales.csv".
	Names []string
}

// Fetcher pulls forecast input exports from a Drive folder.
type Fetcher struct {
	files FileStore
}

func NewFetcher(files FileStore) *Fetcher {
	return &Fetcher{files: files}
}

// Fetch writes <DownloadDir>/<name> for every requested name and returns the paths.
// A name matches a Drive file with the same base name and a .csv or .xlsx
// extension; XLSX files are converted from their first sheet. The newest file
// wins when several match.
func (f *Fetcher) Fetch(ctx context.Context, opts FetchOptions) ([]string, error) {
	if opts.DownloadDir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	folderID, err := f.resolveFolder(ctx, opts)
	if err != nil {
		return nil, err
	}

	files, err := f.files.ListFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}
	matches := matchExports(files, opts.Names)

	var missing []string
	for _, name := range opts.Names {
		if _, ok := matches[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("exports missing from drive folder: %s", strings.Join(missing, ", "))
	}

	paths := make([]string, 0, len(opts.Names))
	for _, name := range opts.Names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file := matches[name]
		csvPath := filepath.Join(opts.DownloadDir, name)
		if isXLSX(file.Name) {
			err = f.fetchXLSX(ctx, file, csvPath)
		} else {
			err = f.download(ctx, file, csvPath)
		}
		if err != nil {
			return nil, err
		}

		log.Info().Str("file", file.Name).Str("path", csvPath).Msg("drive export fetched")
		paths = append(paths, csvPath)
	}

	return paths, nil
}

func (f *Fetcher) resolveFolder(ctx context.Context, opts FetchOptions) (string, error) {
	if opts.FolderID != "" {
		return opts.FolderID, nil
	}
	if strings.Trim(opts.FolderPath, "/") == "" {
		return "", fmt.Errorf("drive folder id or path is required")
	}

	id, err := f.files.FindFolderByPath(ctx, opts.FolderPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve drive folder %q: %w", opts.FolderPath, err)
	}
	log.Debug().Str("path", opts.FolderPath).Str("folder_id", id).Msg("drive folder resolved")
	return id, nil
}

// matchExports maps each wanted CSV name to the first matching file. Files
// come newest first from ListFiles.
func matchExports(files []*File, names []string) map[string]*File {
	wanted := make(map[string]string, len(names))
	for _, name := range names {
		wanted[stem(name)] = name
	}

	out := make(map[string]*File, len(names))
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Name))
		if ext != ".csv" && !isXLSX(file.Name) {
			continue
		}
		name, ok := wanted[stem(file.Name)]
		if !ok {
			continue
		}
		if _, taken := out[name]; !taken {
			out[name] = file
		}
	}
	return out
}

func stem(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}

func isXLSX(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xlsx")
}

// download writes via a temp file so a failed transfer never leaves a partial CSV.
func (f *Fetcher) download(ctx context.Context, file *File, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.files.DownloadFile(ctx, file.ID, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download %s: %w", file.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (f *Fetcher) fetchXLSX(ctx context.Context, file *File, csvPath string) error {
	xlsxPath := strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".xlsx"
	if err := f.download(ctx, file, xlsxPath); err != nil {
		return err
	}
	defer os.Remove(xlsxPath)

	if err := convertXLSXToCSV(xlsxPath, csvPath); err != nil {
		return fmt.Errorf("failed to convert %s to csv: %w", file.Name, err)
	}
	return nil
}
