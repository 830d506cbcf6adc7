package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Filter restricts a search to documents whose metadata fields equal the
// given scalar values. Entries are combined with AND.
type Filter map[string]any

type scalarKind int

const (
	kindString scalarKind = iota
	kindNumber
	kindBool
)

type scalar struct {
	kind scalarKind
	str  string
	num  float64
	b    bool
}

func (s scalar) value() any {
	switch s.kind {
	case kindNumber:
		return s.num
	case kindBool:
		return s.b
	default:
		return s.str
	}
}

func toScalar(v any) (scalar, bool) {
	switch x := v.(type) {
	case string:
		return scalar{kind: kindString, str: x}, true
	case bool:
		return scalar{kind: kindBool, b: x}, true
	case int:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case int8:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case int16:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case int32:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case int64:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case uint:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case uint8:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case uint16:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case uint32:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case uint64:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case float32:
		return scalar{kind: kindNumber, num: float64(x)}, true
	case float64:
		return scalar{kind: kindNumber, num: x}, true
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return scalar{}, false
		}
		return scalar{kind: kindNumber, num: f}, true
	}
	return scalar{}, false
}

// Validate rejects empty field names and non-scalar values.
func (f Filter) Validate() error {
	for _, k := range f.sortedKeys() {
		if k == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidFilter)
		}
		if _, ok := toScalar(f[k]); !ok {
			return fmt.Errorf("%w: field %q has unsupported value type %T", ErrInvalidFilter, k, f[k])
		}
	}
	return nil
}

func (f Filter) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches reports whether metadata satisfies every entry of f.
func (f Filter) Matches(metadata map[string]any) bool {
	for k, want := range f {
		ws, ok := toScalar(want)
		if !ok {
			return false
		}
		got, present := metadata[k]
		if !present {
			return false
		}
		gs, ok := toScalar(got)
		if !ok || gs.kind != ws.kind {
			return false
		}
		switch ws.kind {
		case kindString:
			if gs.str != ws.str {
				return false
			}
		case kindNumber:
			if gs.num != ws.num {
				return false
			}
		case kindBool:
			if gs.b != ws.b {
				return false
			}
		}
	}
	return true
}

// searchClause translates f into a conjunction over metadata fields.
func (f Filter) searchClause(metadataKey string) (*SearchClause, error) {
	if len(f) == 0 {
		return nil, nil
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	conj := SearchClause{Kind: ClauseConjunction}
	for _, k := range f.sortedKeys() {
		s, _ := toScalar(f[k])
		field := metadataKey + "." + k
		switch s.kind {
		case kindString:
			conj.Children = append(conj.Children, SearchClause{Kind: ClauseMatch, Field: field, Text: s.str})
		case kindNumber:
			v := s.num
			conj.Children = append(conj.Children, SearchClause{Kind: ClauseNumericRange, Field: field, Min: &v, Max: &v})
		case kindBool:
			conj.Children = append(conj.Children, SearchClause{Kind: ClauseBool, Field: field, Bool: s.b})
		}
	}
	return &conj, nil
}

// queryPredicates translates f into equality predicates on alias.metadataKey,
// with every value bound as a named parameter.
func (f Filter) queryPredicates(alias, metadataKey string) ([]string, map[string]any, error) {
	if len(f) == 0 {
		return nil, map[string]any{}, nil
	}
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}

	preds := make([]string, 0, len(f))
	params := make(map[string]any, len(f))
	for i, k := range f.sortedKeys() {
		s, _ := toScalar(f[k])
		name := "f" + strconv.Itoa(i)
		preds = append(preds, fmt.Sprintf("%s.%s.%s = $%s", alias, QuoteIdent(metadataKey), QuoteIdent(k), name))
		params[name] = s.value()
	}
	return preds, params, nil
}
