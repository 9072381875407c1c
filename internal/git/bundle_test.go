package git

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEmptyBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bundle")

	require.NoError(t, WriteEmptyBundle(path))
	require.NoError(t, VerifyEmptyBundle(path))

	h, err := ReadBundleHeader(path)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
	assert.Empty(t, h.Refs)
}

func TestReadBundleHeader(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		refs    int
		wantErr bool
	}{
		{"v2 with refs", "# v2 git bundle\nabc123 refs/heads/main\ndef456 refs/tags/v1\n\nPACK", 2, false},
		{"v3 capability", "# v3 git bundle\n@object-format=sha1\nabc123 refs/heads/main\n\nPACK", 1, false},
		{"not a bundle", "PK\x03\x04", 0, true},
		{"truncated", "# v2 git bundle\nabc123 refs/heads/main", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			h, err := ReadBundleHeader(path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBundle)
				return
			}

			require.NoError(t, err)
			assert.Len(t, h.Refs, tt.refs)
		})
	}
}

func TestVerifyEmptyBundle_RejectsRefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bundle")
	require.NoError(t, os.WriteFile(path, []byte("# v2 git bundle\nabc refs/heads/main\n\n"), 0o644))

	assert.ErrorIs(t, VerifyEmptyBundle(path), ErrInvalidBundle)
}
