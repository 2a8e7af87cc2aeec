// Package syncmap persists what has been uploaded to the wiki between runs.
//
// A sync map has four sections (assets, html, css, js), each mapping a path
// relative to the source directory to the digest of the content last
// uploaded for it and the URL other files use to link to it. Entries are
// never pruned: a file that disappears and comes back with identical content
// is not uploaded again.
package syncmap

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Section names one of the four sub-maps
type Section string

const (
	Assets Section = "assets"
	HTML   Section = "html"
	CSS    Section = "css"
	JS     Section = "js"
)

// Sections lists every section a normalized map contains
var Sections = []Section{Assets, HTML, CSS, JS}

var (
	// ErrMalformed means a section exists but is not a mapping. The persisted
	// state is corrupted in a way that must not be guessed around.
	ErrMalformed = errors.New("malformed sync map")

	// ErrCorrupt means the file could not be read or parsed at all. Load
	// still returns an empty map alongside it.
	ErrCorrupt = errors.New("unreadable sync map")
)

// Entry records the last uploaded state of one file
type Entry struct {
	Digest         string `yaml:"digest"`
	LinkURL        string `yaml:"link_URL"`
	UploadFilename string `yaml:"upload_filename,omitempty"`
}

// Map is the in-memory sync map. It is owned by a single run and mutated in
// place; reads always observe earlier writes.
type Map map[Section]map[string]Entry

// Empty returns a map with all four sections present and empty
func Empty() Map {
	m := make(Map, len(Sections))
	for _, s := range Sections {
		m[s] = make(map[string]Entry)
	}
	return m
}

// Get returns the entry stored for path in section
func (m Map) Get(section Section, path string) (Entry, bool) {
	e, ok := m[section][path]
	return e, ok
}

// Put stores the entry for path in section
func (m Map) Put(section Section, path string, e Entry) {
	if m[section] == nil {
		m[section] = make(map[string]Entry)
	}
	m[section][path] = e
}

// Link returns the link URL stored for path, or "" when unknown
func (m Map) Link(section Section, path string) string {
	return m[section][path].LinkURL
}

// Len returns the number of entries across all sections
func (m Map) Len() int {
	n := 0
	for _, entries := range m {
		n += len(entries)
	}
	return n
}

// Load reads the sync map at path. A missing file yields an empty map and no
// error. A file that cannot be read or parsed yields an empty map together
// with an error wrapping ErrCorrupt. A section that is present but not a
// mapping yields an error wrapping ErrMalformed.
func Load(fsys afero.Fs, path string) (Map, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), nil
		}
		return Empty(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Empty(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return Normalize(&doc)
}

// Normalize turns a parsed YAML document into a Map, adding any missing
// section. An empty document is an empty map; a document that is not a
// mapping is treated as corrupt.
func Normalize(doc *yaml.Node) (Map, error) {
	m := Empty()

	root := doc
	if root.Kind == 0 {
		return m, nil
	}
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return m, nil
		}
		root = root.Content[0]
	}
	if isNull(root) {
		return m, nil
	}
	if root.Kind != yaml.MappingNode {
		return m, fmt.Errorf("%w: top level is not a mapping (line %d)", ErrCorrupt, root.Line)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		section := Section(key.Value)
		if !isKnown(section) {
			continue
		}
		if isNull(value) {
			continue
		}
		if value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: section %q is not a mapping (line %d)", ErrMalformed, section, value.Line)
		}

		entries := make(map[string]Entry)
		for j := 0; j+1 < len(value.Content); j += 2 {
			pathNode, entryNode := value.Content[j], value.Content[j+1]
			if entryNode.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("%w: entry %q in section %q is not a mapping (line %d)", ErrMalformed, pathNode.Value, section, entryNode.Line)
			}
			var e Entry
			if err := entryNode.Decode(&e); err != nil {
				return nil, fmt.Errorf("%w: entry %q in section %q: %v", ErrMalformed, pathNode.Value, section, err)
			}
			entries[pathNode.Value] = e
		}
		m[section] = entries
	}

	return m, nil
}

// Marshal serializes the map with sorted keys so that successive saves of
// the same content are byte-identical.
func Marshal(m Map) ([]byte, error) {
	out := make(map[string]map[string]Entry, len(Sections))
	for _, s := range Sections {
		entries := m[s]
		if entries == nil {
			entries = map[string]Entry{}
		}
		out[string(s)] = entries
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the map to path atomically: the content goes to a temporary
// file in the same directory which is then renamed over the target.
func Save(fsys afero.Fs, path string, m Map) error {
	data, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode sync map: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create sync map directory: %w", err)
	}

	tmpFile, err := afero.TempFile(fsys, dir, ".wikisync-map-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fsys.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write sync map: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to write sync map: %w", err)
	}
	if err := fsys.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set sync map permissions: %w", err)
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace sync map: %w", err)
	}
	return nil
}

func isKnown(s Section) bool {
	for _, known := range Sections {
		if s == known {
			return true
		}
	}
	return false
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}
