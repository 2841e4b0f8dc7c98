package render

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func innerPresentation(t *testing.T) []byte {
	return buildZip(t, map[string][]byte{
		"[Content_Types].xml":  []byte("<Types/>"),
		"ppt/presentation.xml": []byte(strings.Repeat("x", 600)),
	})
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestZipExtractor_FindsEmbeddedPresentations(t *testing.T) {
	dir := t.TempDir()
	legacy := append(append([]byte{}, ole2Signature...), bytes.Repeat([]byte{0}, 600)...)
	docx := buildZip(t, map[string][]byte{
		"[Content_Types].xml": []byte("<Types/>"),
		"word/document.xml":   []byte(strings.Repeat("w", 600)),
	})
	root := writeFile(t, dir, "deck.pptx", buildZip(t, map[string][]byte{
		"[Content_Types].xml":                []byte("<Types/>"),
		"ppt/slides/slide1.xml":              []byte("<slide/>"),
		"ppt/embeddings/a_presentation.pptx": innerPresentation(t),
		"ppt/embeddings/b_oleObject.bin":     legacy,
		"ppt/embeddings/c_document.docx":     docx,
		"ppt/embeddings/d_tiny.bin":          []byte("PK\x03\x04tiny"),
	}))

	x := NewZipExtractor(dir, nil)
	children, err := x.Extract(context.Background(), root, "deck_d0")
	require.NoError(t, err)
	require.Len(t, children, 2)

	assert.Equal(t, "embedded_1.pptx", children[0].DisplayName)
	assert.Equal(t, "embedded_2.ppt", children[1].DisplayName)
	for _, c := range children {
		assert.Equal(t, filepath.Join(dir, "deck_d0_embedded", c.DisplayName), c.Locator)
		assert.FileExists(t, c.Locator)
	}
}

func TestZipExtractor_NonPackageHasNoChildren(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "legacy.ppt", append(append([]byte{}, ole2Signature...), make([]byte, 1024)...))

	children, err := NewZipExtractor(dir, nil).Extract(context.Background(), root, "legacy_d0")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestZipExtractor_CorruptPackageIsAnError(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "broken.pptx", []byte("PK\x03\x04 this is not really a zip archive"))

	_, err := NewZipExtractor(dir, nil).Extract(context.Background(), root, "broken_d0")
	assert.Error(t, err)
}

func TestZipExtractor_MissingFile(t *testing.T) {
	_, err := NewZipExtractor(t.TempDir(), nil).Extract(context.Background(), "/does/not/exist.pptx", "x")
	assert.Error(t, err)
}

func TestPresentationKind(t *testing.T) {
	ext, ok := presentationKind(innerPresentation(t))
	assert.True(t, ok)
	assert.Equal(t, ".pptx", ext)

	_, ok = presentationKind([]byte("PK\x03\x04"))
	assert.False(t, ok, "blobs below the minimum size are ignored")

	noContentTypes := buildZip(t, map[string][]byte{"ppt/presentation.xml": []byte(strings.Repeat("p", 600))})
	_, ok = presentationKind(noContentTypes)
	assert.False(t, ok)

	_, ok = presentationKind(bytes.Repeat([]byte{0x42}, 1024))
	assert.False(t, ok)
}
