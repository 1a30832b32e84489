package attachments

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAttachmentText_UnsupportedExtensionReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	text, err := ExtractAttachmentText(path)
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestExtractAttachmentText_MissingPDFErrors(t *testing.T) {
	_, err := ExtractAttachmentText(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
