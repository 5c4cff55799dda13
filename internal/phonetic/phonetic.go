// Package phonetic maps English words to a Portuguese-approximated respelling
// that Brazilian learners can read aloud.
//
// The table is a versioned YAML document. Words that are not in the table fall
// back to their cleaned form, so a guide can always be built.
package phonetic

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/sotaque/internal/textnorm"
)

//go:embed phonetic_br.yaml
var builtinTable []byte

// File is the on-disk layout of a phonetic table.
type File struct {
	Version string            `yaml:"version"`
	Words   map[string]string `yaml:"words"`
}

// Dictionary is a read-only phonetic table. It is safe for concurrent use.
type Dictionary struct {
	version string
	words   map[string]string
}

// New builds a dictionary from raw entries. Keys are normalized so that
// "Don't" and "dont" resolve to the same entry.
func New(version string, entries map[string]string) *Dictionary {
	words := make(map[string]string, len(entries))
	for k, v := range entries {
		key := textnorm.Clean(k)
		if key == "" {
			continue
		}
		words[key] = v
	}
	return &Dictionary{version: version, words: words}
}

// Load parses a phonetic table from r.
func Load(r io.Reader) (*Dictionary, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("phonetic: decode table: %w", err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("phonetic: table has no version")
	}
	return New(f.Version, f.Words), nil
}

// LoadFile parses a phonetic table stored at path.
func LoadFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("phonetic: open %q: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

var (
	defaultOnce sync.Once
	defaultDict *Dictionary
)

// Default returns the built-in Brazilian Portuguese table.
func Default() *Dictionary {
	defaultOnce.Do(func() {
		d, err := Load(strings.NewReader(string(builtinTable)))
		if err != nil {
			panic(err)
		}
		defaultDict = d
	})
	return defaultDict
}

// Version reports the table version.
func (d *Dictionary) Version() string {
	return d.version
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	return len(d.words)
}

// Lookup returns the respelling of word, or the cleaned word when unknown.
func (d *Dictionary) Lookup(word string) string {
	w := textnorm.Clean(word)
	if p, ok := d.words[w]; ok {
		return p
	}
	return w
}

// Known reports whether word has an entry.
func (d *Dictionary) Known(word string) bool {
	_, ok := d.words[textnorm.Clean(word)]
	return ok
}

// Guide respells a whole phrase word by word.
func (d *Dictionary) Guide(phrase string) string {
	words := textnorm.Normalize(phrase)
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = d.Lookup(w)
	}
	return strings.Join(out, " ")
}

// Lookup uses the built-in table.
func Lookup(word string) string {
	return Default().Lookup(word)
}

// Guide uses the built-in table.
func Guide(phrase string) string {
	return Default().Guide(phrase)
}
