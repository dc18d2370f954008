package bundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/climate-compiler/internal/domain"
)

func TestCache_ReusesUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.cbor")
	require.NoError(t, newTestStore(t).Write(path, sampleBundle(t), FormatCBOR))

	c := NewCache()
	loads := 0
	c.load = func(p string) (*domain.Bundle, error) {
		loads++
		return Read(p)
	}

	first, err := c.Read(path)
	require.NoError(t, err)
	second, err := c.Read(path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, c.size())
}

func TestCache_ReloadsRewrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.cbor")
	store := newTestStore(t)
	require.NoError(t, store.Write(path, sampleBundle(t), FormatCBOR))

	c := NewCache()
	first, err := c.Read(path)
	require.NoError(t, err)

	b := sampleBundle(t)
	b.Dataset = "modis-rewrite"
	require.NoError(t, store.Write(path, b, FormatCBOR))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := c.Read(path)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "modis-rewrite", second.Dataset)
}

func TestCache_EvictsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.cbor")
	require.NoError(t, newTestStore(t).Write(path, sampleBundle(t), FormatCBOR))

	c := NewCache()
	_, err := c.Read(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = c.Read(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, c.size())
}
