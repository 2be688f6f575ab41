package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/brayns/brayns_server/internal/model"
)

var (
	ErrNoSuitableLoader = errors.New("no suitable loader")
	ErrMalformedData    = errors.New("malformed model data")
)

// ProgressFunc receives loader progress in [0, 1].
type ProgressFunc func(operation string, amount float64)

// Blob is a complete in-memory model file.
type Blob struct {
	Type string
	Name string
	Data []byte
}

type Loader interface {
	Name() string
	// Extensions lists the lower-case types this loader handles, without the leading dot.
	Extensions() []string
	ImportFromBlob(ctx context.Context, blob Blob, progress ProgressFunc, properties map[string]interface{}) ([]*model.Model, error)
}

type Info struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

type Registry struct {
	loaders []Loader
	mu      sync.RWMutex
}

func NewRegistry(loaders ...Loader) *Registry {
	r := &Registry{}
	for _, l := range loaders {
		r.Register(l)
	}
	return r
}

// NewDefaultRegistry returns a registry with every built-in loader.
func NewDefaultRegistry() *Registry {
	return NewRegistry(NewMeshLoader(), NewPLYLoader(), NewOBJLoader(), NewXYZLoader())
}

func (r *Registry) Register(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders = append(r.loaders, l)
}

func (r *Registry) IsSupportedType(typ string) bool {
	typ = normalizeType(typ)
	if typ == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.loaders {
		if handles(l, typ) {
			return true
		}
	}
	return false
}

// SuitableLoader picks the loader named loaderName when given, otherwise the first
// loader handling typ, falling back to the extension of filename.
func (r *Registry) SuitableLoader(filename, typ, loaderName string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if loaderName != "" {
		for _, l := range r.loaders {
			if l.Name() == loaderName {
				return l, nil
			}
		}
		return nil, fmt.Errorf("%w: unknown loader %q", ErrNoSuitableLoader, loaderName)
	}

	candidates := []string{normalizeType(typ), normalizeType(filepath.Ext(filename))}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, l := range r.loaders {
			if handles(l, c) {
				return l, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: type %q", ErrNoSuitableLoader, typ)
}

func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.loaders))
	for _, l := range r.loaders {
		exts := append([]string(nil), l.Extensions()...)
		sort.Strings(exts)
		infos = append(infos, Info{Name: l.Name(), Extensions: exts})
	}
	return infos
}

func handles(l Loader, typ string) bool {
	for _, ext := range l.Extensions() {
		if ext == typ {
			return true
		}
	}
	return false
}

func normalizeType(typ string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(typ), "."))
}

// progressEvery reports progress at most every step items to keep callbacks cheap.
func progressEvery(progress ProgressFunc, operation string, done, total, step int) {
	if progress == nil || total == 0 || done%step != 0 {
		return
	}
	progress(operation, float64(done)/float64(total))
}

func checkCancelled(ctx context.Context, i int) error {
	if i%4096 != 0 {
		return nil
	}
	return ctx.Err()
}
