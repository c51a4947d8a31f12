package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/iammatthi/spacedrive"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new library config at the current version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		return runCreate(cmd.Context(), doc, args[0], cmd.OutOrStdout())
	},
}

func runCreate(_ context.Context, doc *ConfigDoc, name string, out io.Writer) error {
	id, err := spacedrive.LoadNodeIdentity(doc.IdentityPath())
	if err != nil {
		return err
	}
	nodeID, err := doc.NodeID(id)
	if err != nil {
		return err
	}
	path, cfg, err := spacedrive.CreateLibrary(doc.LibrariesPath(), strings.TrimSpace(name), nodeID)
	if err != nil {
		return err
	}
	libID, err := spacedrive.LibraryID(path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "created library %q (%s) at version %d: %s\n", cfg.Name, libID, cfg.Version, path)
	return nil
}
