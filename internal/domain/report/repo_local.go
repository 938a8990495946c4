package report

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/openrad/openrad/internal/platform/localstore"
)

// ReportsKey is the local store key holding the full report collection.
const ReportsKey = "openrad_reports"

type localRepo struct {
	store  *localstore.Store
	logger zerolog.Logger
}

// NewLocalRepo returns a LocalStore backed by the device's key-value store.
// The whole collection lives under one key; mutations are read-modify-write.
func NewLocalRepo(store *localstore.Store, logger zerolog.Logger) LocalStore {
	return &localRepo{store: store, logger: logger}
}

func (r *localRepo) LoadAll() []*Record {
	var records []*Record
	if err := r.store.Get(ReportsKey, &records); err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			r.logger.Warn().Err(err).Msg("loading local reports failed, treating as empty")
		}
		return []*Record{}
	}
	if records == nil {
		return []*Record{}
	}
	return records
}

func (r *localRepo) SaveAll(records []*Record) error {
	return r.store.Put(ReportsKey, records)
}

func (r *localRepo) Append(rec *Record) error {
	records := r.LoadAll()
	records = append(records, rec)
	return r.SaveAll(records)
}

func (r *localRepo) Clear() error {
	return r.store.Delete(ReportsKey)
}
