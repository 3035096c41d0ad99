package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_WriteAndRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := store.Write(context.Background(), "uploads/leads.xlsx", []byte("workbook"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/leads.xlsx", key)

	data, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("workbook"), data)
}

func TestFileStore_ReadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "processed/missing.xlsx")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_Exists(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), "uploads/a.xlsx")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Write(context.Background(), "uploads/a.xlsx", []byte("x"))
	require.NoError(t, err)

	ok, err = store.Exists(context.Background(), "uploads/a.xlsx")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_Open(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Write(context.Background(), "processed/out.xlsx", []byte("result"))
	require.NoError(t, err)

	rc, err := store.Open(context.Background(), "processed/out.xlsx")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, rc.Close())
	}()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), data)

	// Seekable: rewind and read again.
	_, err = rc.Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), data)
}

func TestFileStore_KeySanitization(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(base)
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     string
		wantKey string
		wantErr bool
	}{
		{name: "plain", key: "uploads/file.xlsx", wantKey: "uploads/file.xlsx"},
		{name: "leading slash", key: "/uploads/file.xlsx", wantKey: "uploads/file.xlsx"},
		{name: "dot slash", key: "./uploads/file.xlsx", wantKey: "uploads/file.xlsx"},
		{name: "traversal", key: "../escape.xlsx", wantErr: true},
		{name: "nested traversal", key: "uploads/../../escape.xlsx", wantErr: true},
		{name: "empty", key: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, werr := store.Write(context.Background(), tt.key, []byte("x"))
			if tt.wantErr {
				require.Error(t, werr)
				return
			}
			require.NoError(t, werr)
			assert.Equal(t, tt.wantKey, got)

			_, statErr := os.Stat(filepath.Join(base, filepath.FromSlash(got)))
			require.NoError(t, statErr)
		})
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Write(ctx, "uploads/file.xlsx", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFileStore_RequiresBasePath(t *testing.T) {
	_, err := NewFileStore("   ")
	require.Error(t, err)
}
