// Package phrasebank loads lesson modules from CSV files.
//
// Each file is one module named after the file stem. The header must contain
// an "en" column; "pt" and "id" are optional.
package phrasebank

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/textnorm"
)

//go:embed data/*.csv
var builtin embed.FS

var (
	// ErrEmptyModule is returned when a module has no usable phrases.
	ErrEmptyModule = errors.New("module has no phrases")
	// ErrModuleNotFound is returned by Find for unknown names.
	ErrModuleNotFound = errors.New("module not found")
)

// FilterFunc returns true when a phrase should be kept.
type FilterFunc func(model.Phrase) bool

// KeepSpeakable drops rows whose English side is empty or not plain ASCII
// words, which usually means a malformed or swapped row.
func KeepSpeakable(p model.Phrase) bool {
	words := textnorm.Normalize(p.English)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		for i := 0; i < len(w); i++ {
			ch := w[i]
			if (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') {
				return false
			}
		}
	}
	return true
}

// Read parses one module from r. Malformed rows are skipped.
func Read(name string, r io.Reader, keep FilterFunc) (model.Module, error) {
	m := model.Module{Name: name}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return m, fmt.Errorf("%s: %w", name, ErrEmptyModule)
	}
	if err != nil {
		return m, fmt.Errorf("%s: read header: %w", name, err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	enCol, ok := cols["en"]
	if !ok {
		return m, fmt.Errorf("%s: missing \"en\" column", name)
	}
	field := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return norm.NFC.String(strings.TrimSpace(rec[i]))
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return m, fmt.Errorf("%s: %w", name, err)
		}
		if enCol >= len(rec) {
			continue
		}
		p := model.Phrase{
			ID:         field(rec, "id"),
			English:    field(rec, "en"),
			Portuguese: field(rec, "pt"),
		}
		if keep != nil && !keep(p) {
			continue
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s_%d", name, len(m.Phrases))
		}
		m.Phrases = append(m.Phrases, p)
	}
	if len(m.Phrases) == 0 {
		return m, fmt.Errorf("%s: %w", name, ErrEmptyModule)
	}
	return m, nil
}

// LoadModule reads a module from a CSV file.
func LoadModule(filePath string) (model.Module, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return model.Module{}, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close.
			_ = cerr
		}
	}()
	return Read(moduleName(filePath), f, KeepSpeakable)
}

// LoadFS reads every *.csv file at the root of fsys, sorted by name.
func LoadFS(fsys fs.FS) ([]model.Module, error) {
	names, err := fs.Glob(fsys, "*.csv")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	modules := make([]model.Module, 0, len(names))
	for _, n := range names {
		f, err := fsys.Open(n)
		if err != nil {
			return nil, err
		}
		m, err := Read(moduleName(n), f, KeepSpeakable)
		if cerr := f.Close(); cerr != nil {
			// Best-effort close.
			_ = cerr
		}
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// LoadDir reads every module in dir.
func LoadDir(dir string) ([]model.Module, error) {
	return LoadFS(os.DirFS(dir))
}

// Default returns the built-in sample modules.
func Default() ([]model.Module, error) {
	sub, err := fs.Sub(builtin, "data")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// Load reads modules from dir, or the built-in modules when dir is empty.
func Load(dir string) ([]model.Module, error) {
	if dir == "" {
		return Default()
	}
	return LoadDir(dir)
}

// Find returns the module called name.
func Find(modules []model.Module, name string) (model.Module, error) {
	for _, m := range modules {
		if m.Name == name {
			return m, nil
		}
	}
	return model.Module{}, fmt.Errorf("%q: %w", name, ErrModuleNotFound)
}

// FindPhrase returns the phrase with the given id across modules.
func FindPhrase(modules []model.Module, id string) (model.Phrase, string, bool) {
	for _, m := range modules {
		for _, p := range m.Phrases {
			if p.ID == id {
				return p, m.Name, true
			}
		}
	}
	return model.Phrase{}, "", false
}

func moduleName(filePath string) string {
	base := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
