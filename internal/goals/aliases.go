package goals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/GrigoryEvko/rtlink/internal/errs"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// FormatName strips every non-alphanumeric character and lowercases the
// rest. Alias entries are stored in this form.
func FormatName(name string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(name, ""))
}

// Aliases is the global table of canonical structure names and the names
// they are known by. It is safe for concurrent use.
type Aliases struct {
	path string

	mu      sync.RWMutex
	entries map[string][]string
}

// NewAliases builds an in-memory table. Aliases are stored formatted.
func NewAliases(entries map[string][]string) *Aliases {
	a := &Aliases{entries: make(map[string][]string, len(entries))}
	for canonical, names := range entries {
		for _, n := range names {
			a.add(canonical, n)
		}
		if _, ok := a.entries[canonical]; !ok {
			a.entries[canonical] = nil
		}
	}
	return a
}

// LoadAliases reads a JSON object of canonical name to alias list. A missing
// file yields an empty table bound to path so that edits can be saved.
func LoadAliases(path string) (*Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Aliases{path: path, entries: make(map[string][]string)}, nil
		}
		return nil, fmt.Errorf("read alias table: %w", err)
	}
	var entries map[string][]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errs.NewConfigTableMalformed(path, "", err)
	}
	a := NewAliases(entries)
	a.path = path
	return a, nil
}

// Path is the file the table was loaded from.
func (a *Aliases) Path() string {
	return a.path
}

// Canonicals returns the canonical names in sorted order.
func (a *Aliases) Canonicals() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.entries))
	for n := range a.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Names returns the aliases of canonical.
func (a *Aliases) Names(canonical string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.entries[canonical]...)
}

// Lookup returns the canonical names that list name as an alias, or whose
// formatted form equals the formatted name.
func (a *Aliases) Lookup(name string) []string {
	formatted := FormatName(name)
	if formatted == "" {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for canonical, names := range a.entries {
		if FormatName(canonical) == formatted {
			out = append(out, canonical)
			continue
		}
		if i := sort.SearchStrings(names, formatted); i < len(names) && names[i] == formatted {
			out = append(out, canonical)
		}
	}
	sort.Strings(out)
	return out
}

// AddAlias adds name to the aliases of canonical and saves the table.
func (a *Aliases) AddAlias(canonical, name string) error {
	if strings.TrimSpace(canonical) == "" || FormatName(name) == "" {
		return fmt.Errorf("alias %q for %q: empty name", name, canonical)
	}
	a.mu.Lock()
	a.add(canonical, name)
	a.mu.Unlock()
	return a.Save()
}

// RemoveAlias removes name from the aliases of canonical and saves the
// table. Removing an unknown alias is not an error.
func (a *Aliases) RemoveAlias(canonical, name string) error {
	formatted := FormatName(name)
	a.mu.Lock()
	names, ok := a.entries[canonical]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("unknown canonical structure %q", canonical)
	}
	i := sort.SearchStrings(names, formatted)
	if i == len(names) || names[i] != formatted {
		a.mu.Unlock()
		return nil
	}
	a.entries[canonical] = append(names[:i:i], names[i+1:]...)
	a.mu.Unlock()
	return a.Save()
}

func (a *Aliases) add(canonical, name string) {
	formatted := FormatName(name)
	if formatted == "" {
		return
	}
	names := a.entries[canonical]
	i := sort.SearchStrings(names, formatted)
	if i < len(names) && names[i] == formatted {
		return
	}
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = formatted
	a.entries[canonical] = names
}

// Save writes the table to its path through a temporary file and rename.
// A table without a path is not persisted.
func (a *Aliases) Save() error {
	if a.path == "" {
		return nil
	}
	a.mu.RLock()
	data, err := json.MarshalIndent(a.entries, "", "  ")
	a.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".aliases-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.path)
}
