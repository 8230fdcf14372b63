package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExportsFolder is the key segment under the prefix holding source CSV exports.
const ExportsFolder = "exports"

// FetchExports downloads the named files from <prefix>/exports into dir and
// returns their local paths in the order of names. When several objects share
// a base name, the lexically last key wins, so dated sub-folders pick the newest.
func FetchExports(ctx context.Context, store ObjectStorage, prefix, dir string, names []string) ([]string, error) {
	objects, err := store.ListObjects(ctx, JoinKey(prefix, ExportsFolder)+"/")
	if err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	byName := make(map[string]string, len(objects))
	for _, obj := range objects {
		byName[strings.ToLower(path.Base(obj.Key))] = obj.Key
	}

	var missing []string
	for _, name := range names {
		if _, ok := byName[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("exports missing from object storage: %s", strings.Join(missing, ", "))
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		key := byName[strings.ToLower(name)]
		dest := filepath.Join(dir, name)
		if err := store.DownloadObject(ctx, key, dest); err != nil {
			return nil, err
		}
		log.Info().Str("key", key).Str("path", dest).Msg("export downloaded")
		paths = append(paths, dest)
	}

	return paths, nil
}
