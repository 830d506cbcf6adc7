package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"simmgate-vectorcache/internal/app"
	"simmgate-vectorcache/internal/docstore"
	"simmgate-vectorcache/internal/vectorstore"
)

func newSearchCmd(load loader) *cobra.Command {
	var (
		query   string
		k       int
		filters []string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a similarity search against the vector collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(filters)
			if err != nil {
				return err
			}

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			cfg.Vectors.Enabled = true
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.Vectors.Search(cmd.Context(), vectorstore.Request{Text: query, K: k, Filter: filter})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query text")
	cmd.Flags().IntVar(&k, "k", vectorstore.DefaultK, "number of results")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "metadata filter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// parseFilter turns key=value pairs into a Filter. Values that parse as a
// bool or number are matched as such.
func parseFilter(pairs []string) (docstore.Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	f := docstore.Filter{}
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("filter %q: expected key=value", p)
		}
		if b, err := strconv.ParseBool(val); err == nil {
			f[key] = b
		} else if n, err := strconv.ParseFloat(val, 64); err == nil {
			f[key] = n
		} else {
			f[key] = val
		}
	}
	return f, nil
}
