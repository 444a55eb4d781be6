package planner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/xrash/smetrics"
	"gopkg.in/yaml.v3"

	"palicanon/internal/adapter/analyzer"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for an alias match.
const fuzzyThreshold = 0.93

// AliasTable maps nicknames of discourses ("Fire Sermon", "Ādittapariyāya")
// to canonical ids ("SN 35.28"). Keys are lowercase and diacritic-folded.
type AliasTable struct {
	byAlias map[string]string
	keys    []string // longest first, then alphabetical
}

// NewAliasTable builds a table from canonical id to aliases. Each id is also
// an alias of itself.
func NewAliasTable(idToAliases map[string][]string) *AliasTable {
	t := &AliasTable{byAlias: make(map[string]string)}
	for id, aliases := range idToAliases {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		for _, a := range append(append([]string(nil), aliases...), id) {
			if key := normalizeAlias(a); key != "" {
				t.byAlias[key] = id
			}
		}
	}
	for k := range t.byAlias {
		t.keys = append(t.keys, k)
	}
	sort.Slice(t.keys, func(i, j int) bool {
		if len(t.keys[i]) != len(t.keys[j]) {
			return len(t.keys[i]) > len(t.keys[j])
		}
		return t.keys[i] < t.keys[j]
	})
	return t
}

// LoadAliases reads a CSV with columns canonical_id,alias and a YAML mapping
// of canonical id to alias list. Empty paths are skipped; a missing file is
// an error.
func LoadAliases(csvPath, yamlPath string) (*AliasTable, error) {
	idToAliases := make(map[string][]string)

	if csvPath != "" {
		if err := loadAliasCSV(csvPath, idToAliases); err != nil {
			return nil, err
		}
	}
	if yamlPath != "" {
		if err := loadAliasYAML(yamlPath, idToAliases); err != nil {
			return nil, err
		}
	}

	return NewAliasTable(idToAliases), nil
}

func loadAliasCSV(path string, into map[string][]string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open alias csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read alias csv header %s: %w", path, err)
	}
	idCol, aliasCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "canonical_id":
			idCol = i
		case "alias":
			aliasCol = i
		}
	}
	if idCol < 0 || aliasCol < 0 {
		return fmt.Errorf("alias csv %s: header must contain canonical_id and alias", path)
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read alias csv %s: %w", path, err)
		}
		if idCol >= len(rec) || aliasCol >= len(rec) {
			continue
		}
		id, alias := strings.TrimSpace(rec[idCol]), strings.TrimSpace(rec[aliasCol])
		if id != "" && alias != "" {
			into[id] = append(into[id], alias)
		}
	}
}

func loadAliasYAML(path string, into map[string][]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open alias yaml: %w", err)
	}
	var m map[string][]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse alias yaml %s: %w", path, err)
	}
	for id, aliases := range m {
		into[id] = append(into[id], aliases...)
	}
	return nil
}

func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byAlias)
}

// Match returns up to limit canonical ids whose aliases occur in text.
// Exact substring matches come first, longest alias first; then fuzzy matches
// of word windows against each alias.
func (t *AliasTable) Match(text string, limit int) []string {
	if t.Len() == 0 || limit <= 0 {
		return nil
	}
	q := normalizeAlias(text)
	padded := " " + q + " "

	var found []string
	seen := make(map[string]struct{})
	add := func(id string) bool {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			found = append(found, id)
		}
		return len(found) >= limit
	}

	for _, key := range t.keys {
		if strings.Contains(padded, " "+key+" ") {
			if add(t.byAlias[key]) {
				return found
			}
		}
	}

	words := strings.Fields(q)
	for _, key := range t.keys {
		if _, ok := seen[t.byAlias[key]]; ok {
			continue
		}
		if bestWindowScore(words, key) >= fuzzyThreshold {
			if add(t.byAlias[key]) {
				return found
			}
		}
	}
	return found
}

// bestWindowScore compares key with every run of len(keyWords) consecutive
// query words.
func bestWindowScore(words []string, key string) float64 {
	n := len(strings.Fields(key))
	if n == 0 || n > len(words) {
		return 0
	}
	best := 0.0
	for i := 0; i+n <= len(words); i++ {
		window := strings.Join(words[i:i+n], " ")
		if s := smetrics.JaroWinkler(window, key, 0.7, 4); s > best {
			best = s
		}
	}
	return best
}

// normalizeAlias lowercases, folds diacritics and keeps only letters and
// digits separated by single spaces. A '.' between digits is kept so "35.28"
// survives.
func normalizeAlias(s string) string {
	rs := []rune(strings.ToLower(analyzer.Fold(s)))
	isDigit := func(i int) bool { return i >= 0 && i < len(rs) && rs[i] >= '0' && rs[i] <= '9' }

	var b strings.Builder
	space := false
	for i, r := range rs {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.' && isDigit(i-1) && isDigit(i+1):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
