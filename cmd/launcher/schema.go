// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holomush/launcher/internal/plugin"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin.yaml JSON Schema",
		Long: `Schema prints the JSON Schema for plugin.yaml manifests, for editor
integration and CI checks. With --out the schema is written to a file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := plugin.GenerateSchema()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}
			if out == "" {
				_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
				return err //nolint:wrapcheck // plain output write
			}

			if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			if err := os.WriteFile(out, schema, 0o600); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			cmd.Printf("Generated %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the schema to this file")

	return cmd
}
