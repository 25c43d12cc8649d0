package schema

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

const (
	tableHitScore       = 3.0
	columnHitScore      = 2.0
	descriptionHitScore = 1.0
	neighborScore       = 0.5

	fuzzyMinLength = 4
	fuzzyMinRatio  = 0.8
)

type ColumnRef struct {
	Table  string
	Column string
}

type ScoredTable struct {
	Table TableDoc
	Score float64
}

// Index is built once per loaded schema and is read-only afterwards.
type Index struct {
	tables        []TableDoc
	position      map[string]int
	tableWords    map[string][]string
	columnWords   map[string][]ColumnRef
	describeWords map[string][]string
	adjacency     map[string][]string
	nameVocab     []string
}

func NewIndex(s DatabaseSchema) *Index {
	idx := &Index{
		tables:        append([]TableDoc(nil), s.Tables...),
		position:      make(map[string]int, len(s.Tables)),
		tableWords:    map[string][]string{},
		columnWords:   map[string][]ColumnRef{},
		describeWords: map[string][]string{},
		adjacency:     map[string][]string{},
	}
	for i, table := range s.Tables {
		idx.position[strings.ToLower(table.Name)] = i
	}

	vocab := map[string]struct{}{}
	for _, table := range s.Tables {
		names := append([]string{table.Name}, table.Aliases...)
		for _, name := range names {
			for _, token := range identifierTokens(name) {
				idx.tableWords[singular(token)] = appendUnique(idx.tableWords[singular(token)], table.Name)
				vocab[singular(token)] = struct{}{}
			}
		}
		for _, token := range splitWords(table.Description) {
			idx.describeWords[singular(token)] = appendUnique(idx.describeWords[singular(token)], table.Name)
		}
		for _, column := range table.Columns {
			ref := ColumnRef{Table: table.Name, Column: column.Name}
			for _, token := range identifierTokens(column.Name) {
				idx.columnWords[singular(token)] = appendRef(idx.columnWords[singular(token)], ref)
				vocab[singular(token)] = struct{}{}
			}
			for _, token := range splitWords(column.Description) {
				idx.describeWords[singular(token)] = appendUnique(idx.describeWords[singular(token)], table.Name)
			}
		}
		for _, fk := range table.ForeignKeys {
			target, ok := s.Table(fk.ReferencedTable)
			if !ok || strings.EqualFold(target.Name, table.Name) {
				continue
			}
			idx.link(table.Name, target.Name)
		}
	}

	idx.nameVocab = make([]string, 0, len(vocab))
	for word := range vocab {
		idx.nameVocab = append(idx.nameVocab, word)
	}
	sort.Strings(idx.nameVocab)
	return idx
}

func (idx *Index) link(a, b string) {
	ka, kb := strings.ToLower(a), strings.ToLower(b)
	idx.adjacency[ka] = appendUnique(idx.adjacency[ka], b)
	idx.adjacency[kb] = appendUnique(idx.adjacency[kb], a)
}

func (idx *Index) Tables() []TableDoc {
	return idx.tables
}

func (idx *Index) Table(name string) (TableDoc, bool) {
	for _, table := range idx.tables {
		if table.Matches(name) {
			return table, true
		}
	}
	return TableDoc{}, false
}

// Neighbors returns the tables joined to name by a foreign key in either direction.
func (idx *Index) Neighbors(name string) []string {
	table, ok := idx.Table(name)
	if !ok {
		return nil
	}
	return idx.sortByPosition(idx.adjacency[strings.ToLower(table.Name)])
}

func (idx *Index) TablesForKeyword(keyword string) []string {
	var out []string
	for _, key := range idx.resolve(keyword) {
		for _, table := range idx.tableWords[key] {
			out = appendUnique(out, table)
		}
	}
	return idx.sortByPosition(out)
}

func (idx *Index) ColumnsForKeyword(keyword string) []ColumnRef {
	var out []ColumnRef
	for _, key := range idx.resolve(keyword) {
		for _, ref := range idx.columnWords[key] {
			out = appendRef(out, ref)
		}
	}
	return out
}

func (idx *Index) DescriptionMatches(keyword string) []string {
	key := singular(strings.ToLower(keyword))
	return idx.sortByPosition(idx.describeWords[key])
}

// Score ranks every table against the keywords. Tables with no hit are
// omitted; ties keep declaration order.
func (idx *Index) Score(keywords []string) []ScoredTable {
	scores := map[string]float64{}
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		for _, table := range idx.TablesForKeyword(keyword) {
			scores[strings.ToLower(table)] += tableHitScore
		}
		columnTables := map[string]struct{}{}
		for _, ref := range idx.ColumnsForKeyword(keyword) {
			columnTables[strings.ToLower(ref.Table)] = struct{}{}
		}
		for table := range columnTables {
			scores[table] += columnHitScore
		}
		for _, table := range idx.DescriptionMatches(keyword) {
			scores[strings.ToLower(table)] += descriptionHitScore
		}
	}

	hits := make([]string, 0, len(scores))
	for table := range scores {
		hits = append(hits, table)
	}
	for _, table := range hits {
		for _, neighbor := range idx.adjacency[table] {
			scores[strings.ToLower(neighbor)] += neighborScore
		}
	}

	out := make([]ScoredTable, 0, len(scores))
	for _, table := range idx.tables {
		if score, ok := scores[strings.ToLower(table.Name)]; ok && score > 0 {
			out = append(out, ScoredTable{Table: table, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// resolve maps a keyword onto index keys: the exact and singular forms, then
// fuzzy neighbours from the name vocabulary when neither matches.
func (idx *Index) resolve(keyword string) []string {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil
	}
	key := singular(keyword)
	if idx.hasNameKey(key) {
		return []string{key}
	}
	if len([]rune(key)) < fuzzyMinLength {
		return nil
	}
	var out []string
	for _, word := range idx.nameVocab {
		if len([]rune(word)) < fuzzyMinLength {
			continue
		}
		if levenshtein.RatioForStrings([]rune(key), []rune(word), levenshtein.DefaultOptions) >= fuzzyMinRatio {
			out = append(out, word)
		}
	}
	return out
}

func (idx *Index) hasNameKey(key string) bool {
	if _, ok := idx.tableWords[key]; ok {
		return true
	}
	_, ok := idx.columnWords[key]
	return ok
}

func (idx *Index) sortByPosition(names []string) []string {
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		return idx.position[strings.ToLower(out[i])] < idx.position[strings.ToLower(out[j])]
	})
	return out
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if strings.EqualFold(existing, value) {
			return values
		}
	}
	return append(values, value)
}

func appendRef(values []ColumnRef, ref ColumnRef) []ColumnRef {
	for _, existing := range values {
		if strings.EqualFold(existing.Table, ref.Table) && strings.EqualFold(existing.Column, ref.Column) {
			return values
		}
	}
	return append(values, ref)
}
