package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"simmgate-vectorcache/internal/app"
)

func newClearCmd(load loader) *cobra.Command {
	var tier string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry of a cache tier or of the vector collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if tier == "vectors" {
				if a.Vectors == nil {
					return fmt.Errorf("vectors are not enabled")
				}
				if err := a.Vectors.Clear(cmd.Context()); err != nil {
					return err
				}
			} else {
				c, ok := a.Caches[tier]
				if !ok {
					return fmt.Errorf("cache tier %q is not enabled", tier)
				}
				if err := c.Clear(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "exact, semantic or vectors")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}
