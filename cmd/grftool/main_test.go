package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-vk/pkg/grf"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"", "data/model/a.rsm", true},
		{"*.rsm", "data/model/A.RSM", true},
		{"*.rsm", "data/texture/a.bmp", false},
		{"prontera", "data/model/prontera/fountain.rsm", true},
		{"prontera*", "data/model/prontera/fountain.rsm", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, match(tt.pattern, tt.name), "%q vs %q", tt.pattern, tt.name)
	}
}

func TestPackDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "model", "box.obj"), []byte("o box\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), bytes.Repeat([]byte("a"), 512), 0o644))

	w, err := packDir(dir)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = w.WriteTo(&buf)
	require.NoError(t, err)

	archive, err := grf.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"data/model/box.obj", "readme.txt"}, archive.List())

	data, err := archive.Read("data/model/box.obj")
	require.NoError(t, err)
	assert.Equal(t, "o box\n", string(data))
}
