package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon/portal-ledger/internal/config"
	"github.com/horizon/portal-ledger/internal/storage"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	_, err := New(dir)
	require.NoError(t, err)

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	content := "exercicio;mes\n2024;1\n"

	res, err := s.Upload(ctx, "imports/revenue/b-1.csv", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Checksum)
	assert.Equal(t, int64(len(content)), res.Size)

	rc, err := s.Download(ctx, "imports/revenue/b-1.csv")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	exists, err := s.Exists(ctx, "imports/revenue/b-1.csv")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDownload_Missing(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Download(context.Background(), "nope.csv")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDelete_RemovesEmptyParents(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Upload(ctx, "ledger/2024/05/01/1-2.jsonl", strings.NewReader("{}\n"), 3)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "ledger/2024/05/01/1-2.jsonl"))

	_, err = os.Stat(filepath.Join(s.basePath, "ledger"))
	assert.True(t, os.IsNotExist(err))

	// deleting again is a no-op
	assert.NoError(t, s.Delete(ctx, "ledger/2024/05/01/1-2.jsonl"))
}

func TestResolve_RejectsEscape(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Upload(context.Background(), "../outside.csv", strings.NewReader("x"), 1)
	assert.Error(t, err)
}

func TestFactoryRegistration(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.New(&config.StorageConfig{Backend: "local", LocalPath: dir})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, st)

	none, err := storage.New(&config.StorageConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = storage.New(&config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}
