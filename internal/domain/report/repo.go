package report

import (
	"context"
	"errors"
)

// ErrNotFound is returned by the remote store when no record matches the id.
var ErrNotFound = errors.New("report not found")

// LocalStore is the device-scoped persistence adapter. Implementations must
// never propagate parse failures: a corrupt collection loads as empty so the
// application keeps working with damaged local state.
type LocalStore interface {
	LoadAll() []*Record
	SaveAll(records []*Record) error
	Append(rec *Record) error
	Clear() error
}

// RemoteStore is the network-backed persistence adapter over the reports
// relation. The repository holds a nil RemoteStore when no valid remote is
// configured; callers treat that as a normal, non-error state.
type RemoteStore interface {
	Insert(ctx context.Context, rec *Record) (*Record, error)
	SelectAll(ctx context.Context) ([]*Record, error)
	SelectOne(ctx context.Context, id string) (*Record, error)
	UpdateData(ctx context.Context, id string, doc Document) error
	DeleteAll(ctx context.Context) error
}

// ProfileSource resolves the acting user's identity and footer defaults from
// the stored profile. It exists so the repository never reads ambient state.
type ProfileSource interface {
	Actor() Actor
	Defaults() Defaults
}
