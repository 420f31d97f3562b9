package feedback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMarker(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MarkerFileName), []byte(content), 0o644))
}

func TestLoadAbsentMarker(t *testing.T) {
	fb, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, fb)
}

func TestLoadParsesHeadingAndItems(t *testing.T) {
	dir := t.TempDir()
	content := `# Things to fix

Some context the operator wrote.

- The status command crashes on fresh builds
- Checkpoint timestamps are local time, should be UTC
  with a continuation line
- Rename the history flag

## Lower priority

- Typos in help text
`
	writeMarker(t, dir, content)

	fb, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, fb)

	assert.Equal(t, "Things to fix", fb.Title, "only the first heading becomes the title")
	require.Len(t, fb.Items, 4)
	assert.Equal(t, "The status command crashes on fresh builds", fb.Items[0])
	assert.Contains(t, fb.Items[1], "Checkpoint timestamps are local time")
	assert.Equal(t, "Typos in help text", fb.Items[3])
	assert.Equal(t, content, fb.Raw)
}

func TestLoadPlainTextMarker(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, "just a sentence, no structure at all\n")

	fb, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.Empty(t, fb.Title)
	assert.Empty(t, fb.Items)
	assert.Contains(t, fb.Raw, "just a sentence")
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, "# Notes\n")

	require.NoError(t, Clear(dir))
	assert.NoFileExists(t, filepath.Join(dir, MarkerFileName))

	// Clearing again is not an error.
	require.NoError(t, Clear(dir))
}
