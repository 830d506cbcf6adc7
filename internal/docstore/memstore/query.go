package memstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"simmgate-vectorcache/internal/docstore"
)

// ident matches a back-quoted identifier, with `` as an escaped quote.
const ident = "`((?:[^`]|``)+)`"

var (
	deleteRe      = regexp.MustCompile(`^DELETE FROM (\S+)$`)
	deleteWhereRe = regexp.MustCompile(`^DELETE FROM (\S+) AS (\w+) WHERE (\w+)\.` + ident + ` = \$(\w+)$`)
	selectWhereRe = regexp.MustCompile(`^SELECT (\w+)\.` + ident + ` AS ` + ident + ` FROM (\S+) AS \w+ WHERE \w+\.` + ident +
		` = \$(\w+) ORDER BY \w+\.` + ident + ` ASC$`)
	createIndexRe = regexp.MustCompile(`^CREATE INDEX ` + ident + ` IF NOT EXISTS ON ([^\s(]+)\(.+\)$`)
	distanceRe   = regexp.MustCompile(`(?:APPROX_)?VECTOR_DISTANCE\(d\.` + ident + `, \$qvec, "([A-Z_]+)"\)`)
	projectionRe = regexp.MustCompile(`d\.` + ident + ` AS ` + ident)
	predicateRe  = regexp.MustCompile(`d\.` + ident + `\.` + ident + ` = \$(\w+)`)
	fromRe       = regexp.MustCompile(`FROM (\S+) AS d\b`)
	useIndexRe   = regexp.MustCompile(`USE INDEX \(` + ident + ` USING GSI\)`)
)

func unquote(s string) string { return strings.ReplaceAll(s, "``", "`") }

// Query understands the statements this module issues: collection and
// per-field clears, secondary index creation, index lookups in
// system:indexes, vector-distance ranking and ordered equality scans.
func (s *Store) Query(ctx context.Context, statement string, params map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(statement, "CREATE INDEX "):
		return nil, s.createIndex(statement)
	case strings.HasPrefix(statement, "DELETE FROM "):
		if m := deleteWhereRe.FindStringSubmatch(statement); m != nil {
			return nil, s.deleteWhere(m, params)
		}
		return nil, s.deleteAll(statement)
	case strings.Contains(statement, "FROM system:indexes"):
		return s.lookupIndex(params)
	case strings.HasPrefix(statement, "SELECT ") && distanceRe.MatchString(statement):
		return s.rank(statement, params)
	case selectWhereRe.MatchString(statement):
		return s.scan(selectWhereRe.FindStringSubmatch(statement), params)
	}
	return nil, fmt.Errorf("memstore: unsupported statement: %s", statement)
}

func (s *Store) deleteAll(statement string) error {
	m := deleteRe.FindStringSubmatch(statement)
	if m == nil || m[1] != s.ns.Keyspace() {
		return fmt.Errorf("memstore: unsupported delete: %s", statement)
	}

	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	col, err := s.collection()
	if err != nil {
		return err
	}
	col.items = make(map[string]memoryEntry)
	return nil
}

func (s *Store) lookupIndex(params map[string]any) ([]map[string]any, error) {
	str := func(k string) string { v, _ := params[k].(string); return v }
	ns := docstore.Namespace{Bucket: str("bucket"), Scope: str("scope"), Collection: str("collection")}

	s.cluster.mu.RLock()
	defer s.cluster.mu.RUnlock()
	col, ok := s.cluster.collections[ns]
	if !ok {
		return nil, nil
	}
	similarity, ok := col.queryIndexes[str("name")]
	if !ok {
		return nil, nil
	}
	row := map[string]any{"name": str("name")}
	if similarity != "" {
		row["with"] = map[string]any{"similarity": similarity}
	}
	return []map[string]any{row}, nil
}

type rankedRow struct {
	row      map[string]any
	distance float64
}

func (s *Store) rank(statement string, params map[string]any) ([]map[string]any, error) {
	if m := fromRe.FindStringSubmatch(statement); m == nil || m[1] != s.ns.Keyspace() {
		return nil, fmt.Errorf("memstore: statement targets another keyspace: %s", statement)
	}

	dm := distanceRe.FindStringSubmatch(statement)
	vectorField := unquote(dm[1])
	metric, err := docstore.ParseDistance(dm[2])
	if err != nil {
		return nil, err
	}

	qvec := vectorOf(params["qvec"])
	if len(qvec) == 0 {
		return nil, fmt.Errorf("memstore: missing $qvec")
	}
	k, ok := params["k"].(int)
	if !ok {
		return nil, fmt.Errorf("memstore: missing $k")
	}

	type predicate struct {
		field, key string
		value      any
	}
	var preds []predicate
	for _, m := range predicateRe.FindAllStringSubmatch(statement, -1) {
		v, ok := params[m[3]]
		if !ok {
			return nil, fmt.Errorf("memstore: missing $%s", m[3])
		}
		preds = append(preds, predicate{field: unquote(m[1]), key: unquote(m[2]), value: v})
	}

	docs, col, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if m := useIndexRe.FindStringSubmatch(statement); m != nil {
		s.cluster.mu.RLock()
		_, exists := col.queryIndexes[unquote(m[1])]
		s.cluster.mu.RUnlock()
		if !exists {
			return nil, fmt.Errorf("%w: %s", docstore.ErrIndexNotFound, unquote(m[1]))
		}
	}

	projections := projectionRe.FindAllStringSubmatch(statement, -1)

	var ranked []rankedRow
	for _, d := range docs {
		vec := vectorOf(d.doc[vectorField])
		if len(vec) == 0 {
			continue
		}

		match := true
		for _, p := range preds {
			sub, _ := d.doc[p.field].(map[string]any)
			if !(docstore.Filter{p.key: p.value}).Matches(sub) {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		row := map[string]any{"id": d.id}
		for _, m := range projections {
			if v, ok := d.doc[unquote(m[1])]; ok {
				row[unquote(m[2])] = v
			}
		}
		dist := metric.QueryDistance(qvec, vec)
		row["distance"] = dist
		ranked = append(ranked, rankedRow{row: row, distance: dist})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].distance < ranked[j].distance })
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	rows := make([]map[string]any, len(ranked))
	for i, r := range ranked {
		rows[i] = r.row
	}
	return rows, nil
}

func (s *Store) createIndex(statement string) error {
	m := createIndexRe.FindStringSubmatch(statement)
	if m == nil || m[2] != s.ns.Keyspace() {
		return fmt.Errorf("memstore: unsupported index statement: %s", statement)
	}

	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	col, err := s.collection()
	if err != nil {
		return err
	}
	name := unquote(m[1])
	if _, ok := col.queryIndexes[name]; !ok {
		col.queryIndexes[name] = ""
	}
	return nil
}

// deleteWhere removes documents whose top-level field equals a parameter.
func (s *Store) deleteWhere(m []string, params map[string]any) error {
	if m[1] != s.ns.Keyspace() || m[2] != m[3] {
		return fmt.Errorf("memstore: unsupported delete: %s", m[0])
	}
	field := unquote(m[4])
	want, ok := params[m[5]]
	if !ok {
		return fmt.Errorf("memstore: missing $%s", m[5])
	}

	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	col, err := s.collection()
	if err != nil {
		return err
	}
	for id, e := range col.items {
		doc, err := decode(e.value)
		if err != nil {
			return err
		}
		if (docstore.Filter{field: want}).Matches(doc) {
			delete(col.items, id)
		}
	}
	return nil
}

// scan serves "SELECT a.f AS f FROM ks AS a WHERE a.k = $p ORDER BY a.o ASC".
func (s *Store) scan(m []string, params map[string]any) ([]map[string]any, error) {
	if m[4] != s.ns.Keyspace() {
		return nil, fmt.Errorf("memstore: statement targets another keyspace: %s", m[0])
	}
	field, as, where, order := unquote(m[2]), unquote(m[3]), unquote(m[5]), unquote(m[7])
	want, ok := params[m[6]]
	if !ok {
		return nil, fmt.Errorf("memstore: missing $%s", m[6])
	}

	docs, _, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	type orderedRow struct {
		row map[string]any
		key float64
	}
	var matched []orderedRow
	for _, d := range docs {
		if !(docstore.Filter{where: want}).Matches(d.doc) {
			continue
		}
		row := map[string]any{}
		if v, ok := d.doc[field]; ok {
			row[as] = v
		}
		key, _ := d.doc[order].(float64)
		matched = append(matched, orderedRow{row: row, key: key})
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].key < matched[j].key })

	rows := make([]map[string]any, len(matched))
	for i, r := range matched {
		rows[i] = r.row
	}
	return rows, nil
}
