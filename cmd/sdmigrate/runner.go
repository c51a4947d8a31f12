package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/iammatthi/spacedrive"
	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
)

// loadConfig reads the config named by --config and applies flag and
// environment overrides. A missing file at the default location is not an
// error; defaults apply.
func loadConfig(v *viper.Viper) (*ConfigDoc, error) {
	doc := &ConfigDoc{}
	path := strings.TrimSpace(v.GetString("config"))
	if path != "" {
		if err := doc.Load(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) || path != defaultConfigPath {
				return nil, fmt.Errorf("load config: %w", err)
			}
		}
	}
	if dir := strings.TrimSpace(v.GetString("libraries_dir")); dir != "" {
		doc.LibrariesDir = dir
	}
	if lvl := strings.TrimSpace(v.GetString("log_level")); lvl != "" {
		doc.Logging.Level = lvl
	}
	if err := doc.SetupLogging(); err != nil {
		return nil, err
	}
	return doc, nil
}

// session holds what one command needs to migrate libraries.
type session struct {
	doc      *ConfigDoc
	migrator *spacedrive.Migrator
	registry *prometheus.Registry
	logger   *common.Logger
}

func openSession(ctx context.Context, doc *ConfigDoc) (*session, error) {
	logger := common.GetLogger().WithComponent("sdmigrate")

	pageSize, err := doc.PageSize()
	if err != nil {
		return nil, err
	}
	id, err := spacedrive.LoadNodeIdentity(doc.IdentityPath())
	if err != nil {
		return nil, err
	}
	nodeID, err := doc.NodeID(id)
	if err != nil {
		return nil, err
	}

	var st *spacedrive.Store
	if !doc.Migration.PerLibraryDatabase {
		st, err = spacedrive.OpenStore(ctx, doc.Store)
		if err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	s := &session{
		doc: doc,
		migrator: &spacedrive.Migrator{
			Store:          st,
			LibraryStore:   doc.libraryStores(),
			NodeID:         nodeID,
			Identity:       id,
			PageSize:       pageSize,
			Metrics:        spacedrive.NewMetrics(reg),
			Logger:         common.GetLogger(),
			LockDocuments:  doc.LockDocuments(),
			DisableHistory: doc.Migration.DisableHistory,
		},
		registry: reg,
		logger:   logger,
	}
	logger.Info("session ready",
		"node_id", nodeID,
		"peer_id", id.PeerID().String(),
		"libraries_dir", doc.LibrariesPath(),
		"page_size", pageSize)
	return s, nil
}

// Close flushes metrics to the configured textfile and closes the store.
func (s *session) Close() error {
	var err error
	if path := strings.TrimSpace(s.doc.Metrics.Textfile); path != "" {
		if werr := prometheus.WriteToTextfile(s.doc.resolve(path), s.registry); werr != nil {
			s.logger.Warn("failed to write metrics textfile", "path", path, "error", werr)
			err = werr
		}
	}
	if s.migrator.Store != nil {
		if cerr := s.migrator.Store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// libraryStores returns the per-library store opener, or nil when all
// libraries share the configured store.
func (c *ConfigDoc) libraryStores() spacedrive.LibraryStoreFunc {
	if !c.Migration.PerLibraryDatabase {
		return nil
	}
	return spacedrive.SqliteLibraryStores(c.Store)
}
