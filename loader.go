package bootseq

import (
	"context"
	"io/fs"
	"strings"
	"sync"
)

// Entry is an initializer file found in an initializer directory.
type Entry struct {
	Name string // Base name of the file, e.g. "01_database.sh".
	Path string // Path of the file within FS.
	FS   fs.FS  // File system holding the initializer directory.
}

// Loader turns initializer files into values. If the value is a Func, an AsyncFunc or a Booter it is dispatched as a
// phase. Any other value is considered to have done its work while being loaded.
type Loader interface {
	// Extensions returns the file name suffixes the Loader knows how to load, e.g. ".sh".
	Extensions() []string
	// Load loads a single initializer file.
	Load(ctx context.Context, e Entry) (any, error)
}

// normalizeExtensions returns exts with a leading dot on each extension, dropping empty and duplicate ones.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if ext[0] != '.' {
			ext = "." + ext
		}
		if !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}

// hasExtension reports whether name ends in one of the normalized extensions.
func hasExtension(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Registry is a Loader backed by an in-process table of values, keyed by file name. Go programs cannot load source
// files at runtime, so initializer files register their phase from an init function instead:
//
//	func init() {
//		bootseq.Register("01_database.go", bootseq.Func[*App](connect))
//	}
//
// The initializer directory still decides which entries run, and in which order.
type Registry struct {
	mu     sync.RWMutex // Protects field values.
	values map[string]any
	exts   []string
}

// DefaultRegistry is the Registry used by Register, and by directory phases that do not configure a Loader.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty Registry for the given extensions. Without extensions, the Registry claims ".go".
func NewRegistry(extensions ...string) *Registry {
	if len(extensions) == 0 {
		extensions = []string{".go"}
	}
	return &Registry{
		values: make(map[string]any),
		exts:   normalizeExtensions(extensions),
	}
}

// Register adds v to the Registry under the given file name. Register returns an error if the name is taken.
func (r *Registry) Register(name string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.values[name]; ok {
		return DuplicateEntryError(name)
	}
	r.values[name] = v
	return nil
}

// MustRegister is like Register, but panics if the name is taken.
func (r *Registry) MustRegister(name string, v any) {
	if err := r.Register(name, v); err != nil {
		panic(err.Error())
	}
}

// Names returns the registered file names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns := make([]string, 0, len(r.values))
	for name := range r.values {
		ns = append(ns, name)
	}
	return ns
}

// Extensions implements Loader.
func (r *Registry) Extensions() []string {
	return r.exts
}

// Load implements Loader. It returns an UnregisteredEntryError if nothing was registered under the entry's name.
func (r *Registry) Load(_ context.Context, e Entry) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.values[e.Name]
	if !ok {
		return nil, UnregisteredEntryError(e.Name)
	}
	return v, nil
}

// Register adds v to DefaultRegistry. It panics if the name is taken.
func Register(name string, v any) {
	DefaultRegistry.MustRegister(name, v)
}

// multiLoader hands each entry to the first Loader that claims its extension.
type multiLoader []Loader

// Loaders combines several loaders into one. Its extensions are the union of theirs.
func Loaders(loaders ...Loader) Loader {
	return multiLoader(loaders)
}

// Extensions implements Loader.
func (m multiLoader) Extensions() []string {
	var exts []string
	for _, l := range m {
		exts = append(exts, l.Extensions()...)
	}
	return normalizeExtensions(exts)
}

// Load implements Loader.
func (m multiLoader) Load(ctx context.Context, e Entry) (any, error) {
	for _, l := range m {
		if hasExtension(e.Name, normalizeExtensions(l.Extensions())) {
			return l.Load(ctx, e)
		}
	}
	return nil, UnregisteredEntryError(e.Name)
}

// Verify that loaders satisfy the Loader interface.
var _ Loader = (*Registry)(nil)
var _ Loader = multiLoader(nil)
