package convert

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/eapache/queue"
	zarr "github.com/qri-io/zarr-lazy"
)

var (
	// ErrNoSources means no source path or pattern resolved to a store
	ErrNoSources = errors.New("no sources")
	// ErrNoDatasets means the dataset pattern matched nothing in the first source
	ErrNoDatasets = errors.New("no datasets matched")
)

// expandSources resolves paths and glob patterns into a FIFO of store
// directories. Repeated entries are kept, each one is a separate source.
func expandSources(patterns []string) (*queue.Queue, error) {
	q := queue.New()
	for _, pat := range patterns {
		if !strings.ContainsAny(pat, "*?[") {
			q.Add(pat)
			continue
		}
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("source pattern %q: %w", pat, err)
		}
		for _, m := range matches {
			q.Add(m)
		}
	}
	if q.Length() == 0 {
		return nil, ErrNoSources
	}
	return q, nil
}

// sourceQueue hands out the stores of a job in source order. A directory is
// checked and opened when it is taken, and a directory listed more than once
// shares one store.
type sourceQueue struct {
	pending *queue.Queue
	opened  map[string]zarr.Store
}

func newSourceQueue(patterns []string) (*sourceQueue, error) {
	q, err := expandSources(patterns)
	if err != nil {
		return nil, err
	}
	return &sourceQueue{pending: q, opened: map[string]zarr.Store{}}, nil
}

// Len is the number of sources not yet taken
func (sq *sourceQueue) Len() int { return sq.pending.Length() }

// Next opens the next source. Sources are never created.
func (sq *sourceQueue) Next() (zarr.Store, error) {
	if sq.pending.Length() == 0 {
		return nil, ErrNoSources
	}
	dir := sq.pending.Remove().(string)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", dir, err)
	}
	if st, ok := sq.opened[abs]; ok {
		return st, nil
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("source %q is not a directory", dir)
	}
	st, err := zarr.NewLocalStore(abs)
	if err != nil {
		return nil, err
	}
	sq.opened[abs] = st
	return st, nil
}

// Drain opens every remaining source, in order
func (sq *sourceQueue) Drain() ([]zarr.Store, error) {
	stores := make([]zarr.Store, 0, sq.Len())
	for sq.Len() > 0 {
		st, err := sq.Next()
		if err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, nil
}

// Distinct is the number of different stores opened so far
func (sq *sourceQueue) Distinct() int { return len(sq.opened) }

// matcher compiles a dataset name pattern. The pattern must match a whole path,
// which may be written with or without a leading slash.
type matcher struct {
	re *regexp.Regexp
}

func newMatcher(pattern string) (*matcher, error) {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("dataset pattern %q: %w", pattern, err)
	}
	return &matcher{re: re}, nil
}

func (m *matcher) Match(path string) bool {
	path = strings.TrimPrefix(path, "/")
	return m.re.MatchString(path) || m.re.MatchString("/"+path)
}

// matchDatasets lists the arrays in store whose path matches pattern, skipping
// the axis dataset
func matchDatasets(store zarr.Store, pattern, axis string) ([]string, error) {
	m, err := newMatcher(pattern)
	if err != nil {
		return nil, err
	}
	arrays, err := zarr.ListArrays(store)
	if err != nil {
		return nil, err
	}
	axisPath := normalize(axis)

	var names []string
	for _, a := range arrays {
		if a == axisPath && axisPath != "" {
			continue
		}
		if m.Match(a) {
			names = append(names, a)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoDatasets, pattern)
	}
	return names, nil
}

func normalize(path string) string {
	p, _ := zarr.NewPath(path)
	return p.String()
}
