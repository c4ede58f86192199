// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndReadBack(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocal(root)
	require.NoError(t, err)

	data := []byte("fake-webm-bytes")
	stored, err := l.Put(context.Background(), "user-1", "recording.webm", data)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stored.URL, "/audio/user-1/"))
	assert.True(t, strings.HasSuffix(stored.Path, ".webm"))

	got, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The file lives under the root, never outside it.
	rel, err := filepath.Rel(root, stored.Path)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."))
}

func TestPutUniqueNames(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	a, err := l.Put(context.Background(), "user-1", "same.webm", []byte("a"))
	require.NoError(t, err)
	b, err := l.Put(context.Background(), "user-1", "same.webm", []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Path, b.Path)
}

func TestPutSanitizesHostileNames(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocal(root)
	require.NoError(t, err)

	stored, err := l.Put(context.Background(), "../../etc", "../../passwd.mp3", []byte("x"))
	require.NoError(t, err)

	rel, err := filepath.Rel(root, stored.Path)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."), "path escaped the storage root: %s", stored.Path)
}

func TestPutStripsUnknownExtension(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	stored, err := l.Put(context.Background(), "user-1", "payload.exe", []byte("x"))
	require.NoError(t, err)
	assert.False(t, strings.HasSuffix(stored.Path, ".exe"))
}

func TestPutEmptyUser(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = l.Put(context.Background(), "", "a.webm", []byte("x"))
	assert.Error(t, err)
}

func TestPutCanceledContext(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Put(ctx, "user-1", "a.webm", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
