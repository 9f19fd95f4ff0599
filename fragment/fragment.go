// Package fragment loads configuration initializers. YAML and TOML files in an initializer directory are merged into a
// shared koanf instance as they are loaded, so later files override the keys of earlier ones. Loading a fragment is all
// the work it does: the loaded value is the parsed document, which the boot sequence considers done.
package fragment

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/mkock/bootseq/v3"
	"github.com/mkock/bootseq/v3/internal/config"
)

// Loader merges configuration fragments into a koanf instance.
type Loader struct {
	mu  sync.Mutex // Serializes merges into k.
	k   *koanf.Koanf
	log *zap.Logger
}

// New returns a Loader merging into k. A nil k is replaced with an empty instance, and a nil log discards everything.
func New(k *koanf.Koanf, log *zap.Logger) *Loader {
	if k == nil {
		k = koanf.New(".")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{k: k, log: log}
}

// Koanf returns the instance fragments are merged into.
func (l *Loader) Koanf() *koanf.Koanf {
	return l.k
}

// Extensions implements bootseq.Loader.
func (l *Loader) Extensions() []string {
	return []string{".yaml", ".yml", ".toml"}
}

// Load implements bootseq.Loader. It parses the fragment, merges it, and returns the parsed document.
func (l *Loader) Load(_ context.Context, e bootseq.Entry) (any, error) {
	parser, err := parserFor(e.Name)
	if err != nil {
		return nil, err
	}
	content, err := fs.ReadFile(e.FS, e.Path)
	if err != nil {
		return nil, fmt.Errorf("read fragment %s: %w", e.Name, err)
	}
	doc, err := parser.Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("parse fragment %s: %w", e.Name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.k.Load(rawbytes.Provider(content), parser); err != nil {
		return nil, fmt.Errorf("merge fragment %s: %w", e.Name, err)
	}
	l.log.Debug("merged configuration fragment", zap.String("fragment", e.Name), zap.Int("keys", len(doc)))
	return doc, nil
}

func parserFor(name string) (koanf.Parser, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return config.TOML(), nil
	default:
		return nil, fmt.Errorf("unsupported fragment %s", name)
	}
}

// Verify interface compliance.
var _ bootseq.Loader = (*Loader)(nil)
