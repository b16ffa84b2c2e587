// Package media stores uploaded perfume images and hands back the
// reference persisted on the image row.
package media

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// objectName derives a collision-free object name that keeps the
// upload's extension
func objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return uuid.New().String() + ext
}

// nameFromRef extracts the object name from a reference built by join
func nameFromRef(ref string) string {
	return path.Base(ref)
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return strings.TrimRight(base, "/") + "/" + name
}
