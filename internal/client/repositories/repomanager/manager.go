// Package repomanager vends SQLite-backed repositories bound to a DBTX, so a
// service can open one transaction and obtain every repository it needs on it.
package repomanager

import (
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/syncstate"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
)

type RepositoryManager interface {
	Records(db dbx.DBTX) records.Repository
	Outbox(db dbx.DBTX) outbox.Repository
	SyncState(db dbx.DBTX) syncstate.Repository
}

type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Outbox(db dbx.DBTX) outbox.Repository {
	return outbox.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) SyncState(db dbx.DBTX) syncstate.Repository {
	return syncstate.NewSQLiteRepository(db)
}
