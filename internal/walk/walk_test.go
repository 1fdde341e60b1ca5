package walk_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/scriptd/internal/walk"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
}

func collect(t *testing.T, ctx context.Context, paths ...string) ([]string, []error) {
	t.Helper()
	var found []string
	var errs []error
	for path, err := range walk.Scripts(ctx, paths...) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		found = append(found, path)
	}
	return found, errs
}

func TestScripts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.star"))
	touch(t, filepath.Join(dir, "a.star"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "sub", "c.star"))
	single := filepath.Join(t.TempDir(), "single.py")
	touch(t, single)

	found, errs := collect(t, t.Context(), dir, single)
	require.Empty(t, errs)
	require.Equal(t, []string{
		filepath.Join(dir, "a.star"),
		filepath.Join(dir, "b.star"),
		filepath.Join(dir, "sub", "c.star"),
		single,
	}, found)
}

func TestScriptsMissing(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "missing.star")
	found, errs := collect(t, t.Context(), missing)
	require.Empty(t, found)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], os.ErrNotExist)
}

func TestScriptsCanceled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.star"))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	found, errs := collect(t, ctx, dir)
	require.Empty(t, found)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], context.Canceled)
}

func TestScriptsBreak(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.star"))
	touch(t, filepath.Join(dir, "b.star"))
	var n int
	for range walk.Scripts(t.Context(), dir, dir) {
		n++
		break
	}
	require.Equal(t, 1, n)
}
