package export

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// AssetIndex maps exported asset ids to physical file paths.
type AssetIndex map[string]string

// BuildAssetIndex walks the export root and indexes every asset-bearing file,
// keyed by the id portion preceding any sanitization suffix in the filename.
// First occurrence wins on collision.
func BuildAssetIndex(base string) AssetIndex {
	index := AssetIndex{}
	_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, "file_") {
			return nil
		}
		assetID := name
		if i := strings.Index(name, "-"); i >= 0 {
			assetID = name[:i]
		}
		if _, ok := index[assetID]; !ok {
			index[assetID] = path
		}
		return nil
	})
	return index
}

// Resolve maps an asset id to its physical source path.
func (a AssetIndex) Resolve(assetID string) (string, bool) {
	path, ok := a[assetID]
	return path, ok
}

// AssetIDFromPointer extracts the asset id from a pointer such as
// "file-service://file_abc123".
func AssetIDFromPointer(pointer string) string {
	if i := strings.LastIndex(pointer, "://"); i >= 0 {
		return pointer[i+3:]
	}
	return pointer
}
