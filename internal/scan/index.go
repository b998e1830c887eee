package scan

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// indexEntry is one line of the index file.
type indexEntry struct {
	Size    int64       `json:"size"`
	ModTime int64       `json:"mtime"`
	Record  *FileRecord `json:"record"`
}

// Index is a file-backed cache of parsed headers keyed by path, size and
// modification time. Entries are appended as JSON lines; later lines win.
type Index struct {
	path    string
	mu      sync.Mutex
	entries map[string]indexEntry
}

// OpenIndex loads the index at path. A missing file yields an empty index.
func OpenIndex(path string) (*Index, error) {
	idx := &Index{
		path:    path,
		entries: make(map[string]indexEntry),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

// load reads the index file into memory.
func (idx *Index) load() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	file, err := os.Open(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e indexEntry
		// a torn final line from an interrupted run is skipped
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil || e.Record == nil {
			continue
		}
		idx.entries[e.Record.Path] = e
	}
	return scanner.Err()
}

// Lookup returns a copy of the cached record when size and mtime match.
func (idx *Index) Lookup(path string, size, modTime int64) (*FileRecord, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[path]
	if !ok || e.Size != size || e.ModTime != modTime {
		return nil, false
	}
	rec := *e.Record
	return &rec, true
}

// Add stores rec and appends it to the index file.
func (idx *Index) Add(rec *FileRecord, modTime int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e := indexEntry{Size: rec.Size, ModTime: modTime, Record: rec}
	idx.entries[rec.Path] = e

	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(idx.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = file.Write(append(line, '\n'))
	return err
}

// Path is the index file location.
func (idx *Index) Path() string {
	return idx.path
}

// Len is the number of cached paths.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// Compact rewrites the file with one line per path, dropping paths that are
// not in keep. It replaces the file atomically.
func (idx *Index) Compact(keep map[string]bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	paths := make([]string, 0, len(idx.entries))
	for p := range idx.entries {
		if keep != nil && !keep[p] {
			delete(idx.entries, p)
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(idx.path), ".index-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, p := range paths {
		if err := enc.Encode(idx.entries[p]); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), idx.path)
}
