package bootseq

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// DefaultDirname is the initializer directory used when DirConfig.Dirname is empty.
const DefaultDirname = "etc/init"

// DirConfig configures a directory phase.
type DirConfig struct {
	// Dirname is the initializer directory. Without FS, relative paths are resolved against the working directory.
	Dirname string
	// Extensions restricts the files that are loaded. It defaults to the extensions of the Loader.
	Extensions []string
	// FS is the file system Dirname is looked up in. It defaults to the operating system's file system.
	FS fs.FS
	// Loader loads each initializer file. It defaults to DefaultRegistry.
	Loader Loader
}

// resolve returns the file system and the path of the initializer directory within it.
func (c DirConfig) resolve() (fs.FS, string, error) {
	dirname := c.Dirname
	if dirname == "" {
		dirname = DefaultDirname
	}
	if c.FS != nil {
		return c.FS, path.Clean(filepath.ToSlash(dirname)), nil
	}
	abs, err := filepath.Abs(dirname)
	if err != nil {
		return nil, "", err
	}
	return os.DirFS(abs), ".", nil
}

// InitializersIn returns a phase that runs the initializers found in dirname. See Initializers.
func InitializersIn[T any](dirname string) AsyncFunc[T] {
	return Initializers[T](DirConfig{Dirname: dirname})
}

// Initializers returns a phase that runs every initializer file in a directory, allowing an application to drop
// numbered files into a directory instead of registering each phase by hand.
//
// Files are run in lexicographic order of their names, so prefixes such as "01_" and "02_" control the order of
// execution. Sub-directories and files without a matching extension are skipped. Each file is loaded just before it
// runs; the loaded value is dispatched like any other phase, or, if it is not a phase, considered done.
// The first failing initializer halts the directory and fails the phase. A missing directory is not an error.
func Initializers[T any](cfg DirConfig) AsyncFunc[T] {
	loader := cfg.Loader
	if loader == nil {
		loader = DefaultRegistry
	}

	return func(ctx context.Context, app T, next Next) error {
		e, depth := &env[T]{target: app, log: defaultLogger()}, 1
		if parent := enclosing[T](ctx); parent != nil {
			e, depth = parent.env, parent.depth+1
		}

		exts := normalizeExtensions(cfg.Extensions)
		if len(exts) == 0 {
			exts = normalizeExtensions(loader.Extensions())
		}

		fsys, dir, err := cfg.resolve()
		if err != nil {
			return err
		}
		if _, err := fs.Stat(fsys, dir); errors.Is(err, fs.ErrNotExist) {
			e.log.Debug("initializer directory not found", zap.String("dirname", cfg.Dirname))
			next(nil)
			return nil
		}
		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if !entry.IsDir() && hasExtension(entry.Name(), exts) {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		seq := newSequence(ctx, e, depth, true)
		idx := 0
		err = seq.drive(func(context.Context) (any, bool) {
			if idx >= len(names) {
				return nil, false
			}
			entry := Entry{Name: names[idx], Path: path.Join(dir, names[idx]), FS: fsys}
			idx++
			return Named(entry.Name, lazy(func(ctx context.Context) (any, error) {
				e.log.Debug("loading initializer", zap.String("initializer", entry.Name))
				return loader.Load(ctx, entry)
			})), true
		})

		// The directory settles only once the enclosing sequence has, so that code following a call to next in an
		// initializer runs after every phase that comes after the directory.
		seq.settle(next(err))
		return nil
	}
}
