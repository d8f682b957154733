package workflow

import (
	"fmt"
	"strings"
)

// FileList is an ordered list of file paths. Items are either single paths
// or named groups of paths; iteration flattens groups into individual
// paths. Named items can be looked up by name, positional items by index.
type FileList struct {
	items []fileItem
	index map[string]int
	// numPositional is the count of unnamed leading items.
	numPositional int
}

type fileItem struct {
	name  string
	paths []string
	group bool
}

// Files creates a file list of single positional paths.
func Files(paths ...string) *FileList {
	l := &FileList{index: make(map[string]int)}
	for _, path := range paths {
		l.Add(path)
	}
	return l
}

// NoFiles creates an empty file list.
func NoFiles() *FileList {
	return Files()
}

// Add appends single positional paths.
func (l *FileList) Add(paths ...string) *FileList {
	for _, path := range paths {
		l.items = append(l.items, fileItem{paths: []string{path}})
		l.numPositional++
	}
	return l
}

// AddGroup appends one positional item holding a group of paths.
func (l *FileList) AddGroup(paths ...string) *FileList {
	l.items = append(l.items, fileItem{paths: paths, group: true})
	l.numPositional++
	return l
}

// AddNamed appends a named item. A single path is stored as a plain path,
// multiple paths as a group. Re-using a name is an error.
func (l *FileList) AddNamed(name string, paths ...string) (*FileList, error) {
	if _, exists := l.index[name]; exists {
		return nil, fmt.Errorf("file list item %q already exists", name)
	}
	l.index[name] = len(l.items)
	l.items = append(l.items, fileItem{name: name, paths: paths, group: len(paths) != 1})
	return l, nil
}

// Paths returns all paths in order, flattening groups.
func (l *FileList) Paths() []string {
	if l == nil {
		return nil
	}
	paths := make([]string, 0, l.Len())
	for _, item := range l.items {
		paths = append(paths, item.paths...)
	}
	return paths
}

// Len returns the number of individual paths.
func (l *FileList) Len() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, item := range l.items {
		n += len(item.paths)
	}
	return n
}

// Path returns the i-th individual path, counting across groups.
func (l *FileList) Path(i int) string {
	paths := l.Paths()
	if i < 0 || i >= len(paths) {
		panic(fmt.Sprintf("file list index %d out of range [0, %d)", i, len(paths)))
	}
	return paths[i]
}

// At returns the paths of the i-th positional (unnamed) item. Single-path
// items yield a one-element slice.
func (l *FileList) At(i int) ([]string, error) {
	if i < 0 || i >= l.numPositional {
		return nil, fmt.Errorf("positional file list index %d out of range", i)
	}
	n := 0
	for _, item := range l.items {
		if item.name != "" {
			continue
		}
		if n == i {
			return item.paths, nil
		}
		n++
	}
	return nil, fmt.Errorf("positional file list index %d out of range", i)
}

// Named returns the paths of a named item.
func (l *FileList) Named(name string) ([]string, bool) {
	if l == nil {
		return nil, false
	}
	idx, ok := l.index[name]
	if !ok {
		return nil, false
	}
	return l.items[idx].paths, true
}

// Contains reports whether any item contains the given path.
func (l *FileList) Contains(path string) bool {
	for _, item := range l.items {
		for _, p := range item.paths {
			if p == path {
				return true
			}
		}
	}
	return false
}

// String renders the list in constructor-like form.
func (l *FileList) String() string {
	parts := make([]string, 0, len(l.items))
	for _, item := range l.items {
		var rendered string
		if item.group {
			quoted := make([]string, len(item.paths))
			for i, p := range item.paths {
				quoted[i] = fmt.Sprintf("%q", p)
			}
			rendered = "[" + strings.Join(quoted, ", ") + "]"
		} else {
			rendered = fmt.Sprintf("%q", item.paths[0])
		}
		if item.name != "" {
			rendered = item.name + "=" + rendered
		}
		parts = append(parts, rendered)
	}
	return "FileList(" + strings.Join(parts, ", ") + ")"
}
