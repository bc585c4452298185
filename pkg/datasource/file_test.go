package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

func writeFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "flags.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestFileDataSourceInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `{"data": {"flags": {"f": `+minimalFlagJSON+`}, "segments": {}}}`)

	s := store.NewMemoryStore(logger.New())
	src := NewFileDataSource(path, s, logger.New())
	assert.False(t, src.Initialized())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx) }()

	require.Eventually(t, func() bool { return src.Initialized() }, time.Second, 5*time.Millisecond)

	desc, ok := s.Get(flagmodel.KindFlags, "f")
	require.True(t, ok)
	assert.Equal(t, 1, desc.Version)

	cancel()
	<-errCh
}

func TestFileDataSourceReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `{"data": {"flags": {"f": `+minimalFlagJSON+`}, "segments": {}}}`)

	s := store.NewMemoryStore(logger.New())
	src := NewFileDataSource(path, s, logger.New())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx) }()

	require.Eventually(t, func() bool { return src.Initialized() }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"data": {"flags": {"f": `+minimalFlagJSONVersion(7)+`}, "segments": {}}}`), 0o644))

	require.Eventually(t, func() bool {
		desc, ok := s.Get(flagmodel.KindFlags, "f")
		return ok && desc.Version == 7
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-errCh
}

func TestFileDataSourceMissingFileIsFatal(t *testing.T) {
	s := store.NewMemoryStore(logger.New())
	src := NewFileDataSource(filepath.Join(t.TempDir(), "nope.json"), s, logger.New())

	err := src.Run(context.Background())
	assert.Error(t, err)
}
