package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndDelete(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocalStorage(dir, "/media/")
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := l.Save(ctx, "bottle.PNG", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "/media/"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	content, err := os.ReadFile(filepath.Join(dir, nameFromRef(ref)))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(content))

	require.NoError(t, l.Delete(ctx, ref))
	_, err = os.Stat(filepath.Join(dir, nameFromRef(ref)))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, l.Delete(ctx, ref), "deleting twice is not an error")
}

func TestLocalStorageNamesAreUnique(t *testing.T) {
	l, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	a, err := l.Save(context.Background(), "same.jpg", "image/jpeg", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := l.Save(context.Background(), "same.jpg", "image/jpeg", strings.NewReader("b"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestObjectNameDropsSuspiciousExtensions(t *testing.T) {
	assert.True(t, strings.HasSuffix(objectName("a.webp"), ".webp"))
	assert.False(t, strings.Contains(objectName("a.verylongextension"), "."))
	assert.Equal(t, "x.png", nameFromRef("https://cdn.example.com/perfumes/x.png"))
}
