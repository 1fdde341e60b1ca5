// Package walk resolves command line arguments to script files.
package walk

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// Ext is the extension of scripts found in directories.
const Ext = ".star"

// Scripts yields the path of every script named by paths. A file is yielded
// as is, a directory is walked recursively for regular files with the Ext
// suffix in lexical order. Symlinks inside directories are not followed.
// A path which can't be accessed is yielded together with the error.
func Scripts(ctx context.Context, paths ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				yield(p, err)
				return
			}
			info, err := os.Stat(p)
			if err != nil || !info.IsDir() {
				if !yield(p, err) {
					return
				}
				continue
			}
			root, err := os.OpenRoot(p)
			if err != nil {
				if !yield(p, err) {
					return
				}
				continue
			}
			cont := dir(ctx, root.FS(), p, yield)
			_ = root.Close()
			if !cont {
				return
			}
		}
	}
}

// dir walks fsys and reports whether the iteration should continue.
func dir(ctx context.Context, fsys fs.FS, name string, yield func(string, error) bool) bool {
	cont := true
	_ = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			yield(name, ctxErr)
			cont = false
			return fs.SkipAll
		}
		full := filepath.Join(name, path)
		if err != nil {
			if !yield(full, err) {
				cont = false
				return fs.SkipAll
			}
			return nil
		}
		if !d.Type().IsRegular() || filepath.Ext(path) != Ext {
			return nil
		}
		if !yield(full, nil) {
			cont = false
			return fs.SkipAll
		}
		return nil
	})
	return cont
}
