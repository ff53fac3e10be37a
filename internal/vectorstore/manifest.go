package vectorstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// docRef locates one stored chunk inside the chromem database.
type docRef struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
	Lang       string `json:"lang,omitempty"`
}

// manifest is the chromem store's id and path index. chromem-go exposes no
// metadata scan, so point lookups (GetByID, GetByPath) and path-scoped
// deletes go through this sidecar, persisted as JSON next to the database.
// It is owned exclusively by the ChromemStore and guarded by its own mutex.
type manifest struct {
	mu   sync.Mutex
	file string

	// refs maps chunk id to its location.
	refs map[string]docRef

	// byPath maps source path to the ids stored for it. Rebuilt from refs
	// on load, never persisted separately.
	byPath map[string]map[string]struct{}
}

const manifestFileName = "manifest.json"

// loadManifest reads the manifest file from dir, starting empty if absent.
func loadManifest(dir string) (*manifest, error) {
	m := &manifest{
		file:   filepath.Join(dir, manifestFileName),
		refs:   make(map[string]docRef),
		byPath: make(map[string]map[string]struct{}),
	}

	data, err := os.ReadFile(m.file)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	if err := json.Unmarshal(data, &m.refs); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	for id, ref := range m.refs {
		m.indexPath(ref.Path, id)
	}
	return m, nil
}

// indexPath adds id to the byPath index. Caller holds mu or is in load.
func (m *manifest) indexPath(path, id string) {
	ids, ok := m.byPath[path]
	if !ok {
		ids = make(map[string]struct{})
		m.byPath[path] = ids
	}
	ids[id] = struct{}{}
}

// save writes the manifest atomically (temp file + rename). Caller holds mu.
func (m *manifest) save() error {
	data, err := json.Marshal(m.refs)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	tmp := m.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, m.file); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

// add records refs for a batch of ids and persists the manifest once.
func (m *manifest) add(entries map[string]docRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ref := range entries {
		if old, ok := m.refs[id]; ok && old.Path != ref.Path {
			m.unindexPath(old.Path, id)
		}
		m.refs[id] = ref
		m.indexPath(ref.Path, id)
	}
	return m.save()
}

func (m *manifest) unindexPath(path, id string) {
	if ids, ok := m.byPath[path]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byPath, path)
		}
	}
}

// remove drops ids from the manifest and persists. Returns the refs that
// existed, grouped by collection, so the caller can delete the backing docs.
func (m *manifest) remove(ids []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byCollection := make(map[string][]string)
	for _, id := range ids {
		ref, ok := m.refs[id]
		if !ok {
			continue
		}
		byCollection[ref.Collection] = append(byCollection[ref.Collection], id)
		m.unindexPath(ref.Path, id)
		delete(m.refs, id)
	}
	if len(byCollection) == 0 {
		return nil, nil
	}
	return byCollection, m.save()
}

// idsForPath returns the ids recorded for a path, in sorted order.
func (m *manifest) idsForPath(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byPath[path]))
	for id := range m.byPath[path] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lookup returns the ref for one id.
func (m *manifest) lookup(id string) (docRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.refs[id]
	return ref, ok
}

// match returns ids in one collection matching the optional path and lang
// predicates, in sorted order.
func (m *manifest) match(collection, path, lang string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, ref := range m.refs {
		if ref.Collection != collection {
			continue
		}
		if path != "" && ref.Path != path {
			continue
		}
		if lang != "" && ref.Lang != lang {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// clear forgets every ref and persists the empty manifest.
func (m *manifest) clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs = make(map[string]docRef)
	m.byPath = make(map[string]map[string]struct{})
	return m.save()
}
