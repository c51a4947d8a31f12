package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/iammatthi/spacedrive"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/library"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
)

var (
	statusHistory      bool
	statusHistoryLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the version of each library config and the steps still pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		return runStatus(cmd.Context(), doc, statusOptions{history: statusHistory, limit: statusHistoryLimit}, cmd.OutOrStdout())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "show recorded step runs for each library")
	statusCmd.Flags().IntVar(&statusHistoryLimit, "history-limit", 10, "when used with --history, show up to N latest runs per library (0 = all)")
}

type statusOptions struct {
	history bool
	limit   int
}

type libraryStatus struct {
	path    string
	id      string
	name    string
	version int
	pending []int
	err     error
}

func inspectLibrary(path string) libraryStatus {
	st := libraryStatus{
		path: path,
		id:   strings.TrimSuffix(filepath.Base(path), spacedrive.LibraryConfigExtension),
	}
	// #nosec G304 -- path comes from listing the configured libraries directory
	raw, err := os.ReadFile(path)
	if err != nil {
		st.err = err
		return st
	}
	st.name = gjson.GetBytes(raw, "name").String()
	doc, err := document.Decode(raw)
	if err != nil {
		st.err = err
		return st
	}
	st.version, st.pending, st.err = library.NewEngine(library.EngineOptions{}).Pending(doc)
	return st
}

func runStatus(ctx context.Context, doc *ConfigDoc, opts statusOptions, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	paths, err := spacedrive.ListLibraries(doc.LibrariesPath())
	if err != nil {
		return err
	}

	var st *spacedrive.Store
	if opts.history && !doc.Migration.PerLibraryDatabase {
		st, err = spacedrive.OpenStore(ctx, doc.Store)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
	}

	_, _ = fmt.Fprintf(out, "current version: %d\n", spacedrive.CurrentLibraryVersion)
	if len(paths) == 0 {
		_, _ = fmt.Fprintf(out, "no libraries in %s\n", doc.LibrariesPath())
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LIBRARY\tNAME\tVERSION\tPENDING")
	statuses := make([]libraryStatus, 0, len(paths))
	for _, p := range paths {
		s := inspectLibrary(p)
		statuses = append(statuses, s)
		switch {
		case s.err != nil:
			_, _ = fmt.Fprintf(tw, "%s\t%s\t-\terror: %v\n", s.id, s.name, s.err)
		case len(s.pending) == 0:
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t-\n", s.id, s.name, s.version)
		default:
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%v\n", s.id, s.name, s.version, s.pending)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !opts.history {
		return nil
	}
	for _, s := range statuses {
		runs, err := listRuns(ctx, doc, st, s.path)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "\nhistory %s:\n", s.id)
		if len(runs) == 0 {
			_, _ = fmt.Fprintln(out, "  (none)")
			continue
		}
		if opts.limit > 0 && len(runs) > opts.limit {
			runs = runs[len(runs)-opts.limit:]
		}
		for _, r := range runs {
			line := fmt.Sprintf("  %s v%d %s %s", r.RanAt.Format("2006-01-02T15:04:05Z07:00"), r.Version, r.Status, r.Duration)
			if r.Error != "" {
				line += " error=" + r.Error
			}
			_, _ = fmt.Fprintln(out, line)
		}
	}
	return nil
}

func listRuns(ctx context.Context, doc *ConfigDoc, shared *spacedrive.Store, path string) ([]spacedrive.Run, error) {
	if shared != nil {
		return shared.ListRuns(ctx, path)
	}
	st, err := doc.libraryStores()(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	return st.ListRuns(ctx, path)
}
