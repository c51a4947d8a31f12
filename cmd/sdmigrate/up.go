package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/iammatthi/spacedrive"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var upCmd = &cobra.Command{
	Use:   "up [library-id...]",
	Short: "Migrate library configs to the current version",
	Long: "Migrate every library config in the libraries directory, or only the libraries\n" +
		"whose ids are given, to the current version. A failing library does not stop the\n" +
		"others; the run fails when any library failed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		return runUp(cmd.Context(), doc, args, cmd.OutOrStdout())
	},
}

func runUp(ctx context.Context, doc *ConfigDoc, ids []string, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, doc)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	dir := doc.LibrariesPath()
	var results []*spacedrive.Result
	if len(ids) == 0 {
		results, err = s.migrator.MigrateDir(ctx, dir)
	} else {
		results, err = migrateIDs(ctx, s.migrator, dir, ids)
	}

	for _, r := range results {
		name := strings.TrimSuffix(filepath.Base(r.Path), spacedrive.LibraryConfigExtension)
		if r.Migrated() {
			_, _ = fmt.Fprintf(out, "%s: migrated %d -> %d (steps %v)\n", name, r.From, r.To, r.Applied)
		} else {
			_, _ = fmt.Fprintf(out, "%s: up to date at %d\n", name, r.To)
		}
	}
	for _, e := range multierr.Errors(err) {
		_, _ = fmt.Fprintf(out, "error: %v\n", e)
	}
	return err
}

func migrateIDs(ctx context.Context, m *spacedrive.Migrator, dir string, ids []string) ([]*spacedrive.Result, error) {
	var (
		results []*spacedrive.Result
		errs    error
	)
	for _, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid library id %q: %w", raw, err))
			continue
		}
		res, err := m.MigrateLibrary(ctx, filepath.Join(dir, id.String()+spacedrive.LibraryConfigExtension))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}
