package library

import (
	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/migration"
)

// EngineOptions configures NewEngine. Zero values are usable.
type EngineOptions struct {
	Docs          document.Store
	Recorder      migration.Recorder
	Metrics       *migration.Metrics
	Logger        *common.Logger
	LockDocuments bool
}

// NewEngine returns the migration engine for library configs.
func NewEngine(opts EngineOptions) *migration.Engine[Context] {
	docs := opts.Docs
	if docs == nil {
		docs = document.FileStore{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.GetLogger()
	}
	return &migration.Engine[Context]{
		Table:         Steps,
		Docs:          docs,
		Default:       Default,
		Recorder:      opts.Recorder,
		Metrics:       opts.Metrics,
		Logger:        logger.WithComponent("library-migration"),
		LockDocuments: opts.LockDocuments,
	}
}
