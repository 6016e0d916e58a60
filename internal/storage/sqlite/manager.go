package sqlite

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface for SQLite
type Manager struct {
	db                 *SQLiteDB
	collectionJobs     interfaces.CollectionJobStorage
	reelStatJobs       interfaces.ReelStatJobStorage
	classificationJobs interfaces.ClassificationJobStorage
	results            interfaces.ResultStorage
	overrides          interfaces.OverrideStorage
	schedules          interfaces.ScheduleStorage
	content            interfaces.ContentStorage
	logger             arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:                 db,
		collectionJobs:     NewCollectionJobStorage(db, logger),
		reelStatJobs:       NewReelStatJobStorage(db, logger),
		classificationJobs: NewClassificationJobStorage(db, logger),
		results:            NewResultStorage(db, logger),
		overrides:          NewOverrideStorage(db, logger),
		schedules:          NewScheduleStorage(db, logger),
		content:            NewContentStorage(db, logger),
		logger:             logger,
	}

	logger.Info().Msg("SQLite storage manager initialized")
	return manager, nil
}

func (m *Manager) CollectionJobs() interfaces.CollectionJobStorage {
	return m.collectionJobs
}

func (m *Manager) ReelStatJobs() interfaces.ReelStatJobStorage {
	return m.reelStatJobs
}

func (m *Manager) ClassificationJobs() interfaces.ClassificationJobStorage {
	return m.classificationJobs
}

func (m *Manager) Results() interfaces.ResultStorage {
	return m.results
}

func (m *Manager) Overrides() interfaces.OverrideStorage {
	return m.overrides
}

func (m *Manager) Schedules() interfaces.ScheduleStorage {
	return m.schedules
}

func (m *Manager) Content() interfaces.ContentStorage {
	return m.content
}

// Close closes the underlying database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
