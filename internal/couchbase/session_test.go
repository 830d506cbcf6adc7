package couchbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/couchbase/gocb/v2"

	"simmgate-vectorcache/internal/docstore"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{fmt.Errorf("get: %w", gocb.ErrDocumentNotFound), docstore.ErrDocumentNotFound},
		{gocb.ErrCollectionNotFound, docstore.ErrNamespaceNotFound},
		{gocb.ErrIndexNotFound, docstore.ErrIndexNotFound},
		{gocb.ErrUnambiguousTimeout, docstore.ErrStoreUnavailable},
		{context.DeadlineExceeded, docstore.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		got := mapError(tt.in)
		if !errors.Is(got, tt.want) {
			t.Fatalf("mapError(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if !errors.Is(got, tt.in) {
			t.Fatalf("mapError(%v) lost the original error", tt.in)
		}
	}

	if mapError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestToSearchQuery(t *testing.T) {
	v := 3.0
	q := toSearchQuery(docstore.SearchClause{Kind: docstore.ClauseConjunction, Children: []docstore.SearchClause{
		{Kind: docstore.ClauseMatch, Field: "metadata.llm_string", Text: "M1"},
		{Kind: docstore.ClauseNumericRange, Field: "metadata.n", Min: &v, Max: &v},
		{Kind: docstore.ClauseBool, Field: "metadata.ok", Bool: true},
	}})

	raw, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(raw)
	for _, want := range []string{`"conjuncts"`, `"match":"M1"`, `"field":"metadata.llm_string"`, `"bool":true`, `"inclusive_min":true`} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %s in %s", want, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); !errors.Is(err, docstore.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg := Config{ConnectionString: "couchbase://localhost", Username: "admin"}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ConnectTimeout <= 0 {
		t.Fatalf("expected default connect timeout")
	}
}
