package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"simmgate-vectorcache/internal/docstore"
)

// Search ranks documents by the similarity the index was registered with.
// Match clauses compare case-insensitively, like an analyzed text field.
func (s *Store) Search(ctx context.Context, req docstore.SearchRequest) ([]docstore.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, col, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	s.cluster.mu.RLock()
	similarity, ok := col.searchIndexes[req.Index]
	s.cluster.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrIndexNotFound, req.Index)
	}
	metric, err := docstore.ParseDistance(similarity)
	if err != nil {
		return nil, err
	}

	var hits []docstore.SearchHit
	for _, d := range docs {
		vec := vectorOf(d.doc[req.VectorField])
		if len(vec) == 0 {
			continue
		}
		if req.Prefilter != nil && !evaluate(*req.Prefilter, d.doc) {
			continue
		}
		hits = append(hits, docstore.SearchHit{
			ID:     d.id,
			Score:  metric.SearchScore(req.Vector, vec),
			Fields: selectFields(d.doc, req.Fields, req.VectorField),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if req.K > 0 && len(hits) > req.K {
		hits = hits[:req.K]
	}
	return hits, nil
}

func evaluate(c docstore.SearchClause, doc map[string]any) bool {
	switch c.Kind {
	case docstore.ClauseConjunction:
		for _, child := range c.Children {
			if !evaluate(child, doc) {
				return false
			}
		}
		return true
	case docstore.ClauseMatch:
		v, ok := lookup(doc, c.Field).(string)
		return ok && strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(c.Text))
	case docstore.ClauseTerm:
		v, ok := lookup(doc, c.Field).(string)
		return ok && v == c.Text
	case docstore.ClauseNumericRange:
		v, ok := lookup(doc, c.Field).(float64)
		if !ok {
			return false
		}
		if c.Min != nil && v < *c.Min {
			return false
		}
		if c.Max != nil && v > *c.Max {
			return false
		}
		return true
	case docstore.ClauseBool:
		v, ok := lookup(doc, c.Field).(bool)
		return ok && v == c.Bool
	}
	return false
}

// lookup resolves a dotted path, preferring literal keys that contain dots.
func lookup(doc map[string]any, path string) any {
	if v, ok := doc[path]; ok {
		return v
	}
	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}
		if sub, ok := doc[path[:i]].(map[string]any); ok {
			if v := lookup(sub, path[i+1:]); v != nil {
				return v
			}
		}
	}
	return nil
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}

func selectFields(doc map[string]any, fields []string, vectorField string) map[string]any {
	all := make(map[string]any)
	flatten("", doc, all)

	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "*") {
		delete(all, vectorField)
		return all
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			out[f] = v
			continue
		}
		prefix := f + "."
		for k, v := range all {
			if strings.HasPrefix(k, prefix) {
				out[k] = v
			}
		}
	}
	return out
}
