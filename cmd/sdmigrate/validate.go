package main

import (
	"fmt"
	"io"
	"os"

	"github.com/iammatthi/spacedrive"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/library"
	"github.com/iammatthi/spacedrive/internal/migration"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the step table and that every library config can be migrated",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		return runValidate(doc, cmd.OutOrStdout())
	},
}

// validateStepTable rebuilds the library step table through the checking
// constructor so a gap or duplicate is reported instead of panicking.
func validateStepTable() error {
	_, err := migration.NewStepTable(library.Steps.Current(), library.Steps.Steps()...)
	return err
}

func validateLibrary(path string) error {
	// #nosec G304 -- path comes from listing the configured libraries directory
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := document.Decode(raw)
	if err != nil {
		return err
	}
	stored, _, err := library.NewEngine(library.EngineOptions{}).Pending(doc)
	if err != nil {
		return err
	}
	if stored == spacedrive.CurrentLibraryVersion {
		if _, err := library.FromDocument(doc); err != nil {
			return err
		}
	}
	return nil
}

func runValidate(doc *ConfigDoc, out io.Writer) error {
	var errs error
	if err := validateStepTable(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("step table: %w", err))
	}
	if _, err := doc.PageSize(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := doc.Store.Driver(); err != nil {
		errs = multierr.Append(errs, err)
	}

	paths, err := spacedrive.ListLibraries(doc.LibrariesPath())
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("libraries directory: %w", err))
	}
	for _, p := range paths {
		if err := validateLibrary(p); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		_, _ = fmt.Fprintf(out, "ok %s\n", p)
	}

	if errs != nil {
		for _, e := range multierr.Errors(errs) {
			_, _ = fmt.Fprintf(out, "invalid: %v\n", e)
		}
		return fmt.Errorf("validation failed with %d error(s)", len(multierr.Errors(errs)))
	}
	_, _ = fmt.Fprintf(out, "valid: %d libraries\n", len(paths))
	return nil
}
