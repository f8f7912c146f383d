// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/holomush/launcher/internal/plugin"
)

// pluginInfo is one row of launcher list output.
type pluginInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority"`
	API         string   `json:"api,omitempty"`
	Commands    []string `json:"commands,omitempty"`
	Compatible  bool     `json:"compatible"`
	Dir         string   `json:"dir"`
}

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins discovered in the plugins directory",
		Long: `List shows every plugin with a valid manifest in the plugins directory,
in load order, and whether its api constraint accepts this host.
Plugins with invalid manifests or matching --disabled are not listed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			infos, err := listPlugins(cmd, cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			return writeTable(cmd.OutOrStdout(), infos)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func listPlugins(cmd *cobra.Command, cfg *launcherConfig) ([]pluginInfo, error) {
	src, err := newDirSource(cfg)
	if err != nil {
		return nil, err
	}
	manifests, err := src.GetManifests(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	plugin.SortByPriority(manifests)

	hostAPI := semver.MustParse(plugin.HostAPIVersion)
	infos := make([]pluginInfo, 0, len(manifests))
	for _, m := range manifests {
		ok, err := m.CompatibleWith(hostAPI)
		if err != nil {
			ok = false
		}
		infos = append(infos, pluginInfo{
			Name:        m.Name,
			Version:     m.Version,
			Description: m.Description,
			Priority:    string(m.Priority),
			API:         m.API,
			Commands:    m.Commands,
			Compatible:  ok,
			Dir:         m.RootPath,
		})
	}
	return infos, nil
}

func writeJSON(w io.Writer, infos []pluginInfo) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

func writeTable(w io.Writer, infos []pluginInfo) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "no plugins found")
		return err //nolint:wrapcheck // plain output write
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tPRIORITY\tAPI\tCOMPATIBLE") //nolint:errcheck // flushed below
	for _, p := range infos {
		version, api := p.Version, p.API
		if version == "" {
			version = "-"
		}
		if api == "" {
			api = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", p.Name, version, p.Priority, api, p.Compatible) //nolint:errcheck // flushed below
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	return nil
}
