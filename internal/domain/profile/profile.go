// Package profile stores the acting user's identity on the device. The report
// workflow resolves approver names, comment authorship, and footer defaults
// from it; nothing here is authentication — any user can act as any role.
package profile

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/openrad/openrad/internal/domain/report"
	"github.com/openrad/openrad/internal/platform/localstore"
)

// ProfileKey is the local store key holding the user profile.
const ProfileKey = "openrad_profile"

// Profile is the locally stored user identity.
type Profile struct {
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	HospitalName string `json:"hospital_name"`
	Department   string `json:"department"`
}

// Store reads and writes the device profile.
type Store struct {
	store  *localstore.Store
	logger zerolog.Logger
}

// NewStore returns a profile store over the device key-value store.
func NewStore(store *localstore.Store, logger zerolog.Logger) *Store {
	return &Store{store: store, logger: logger}
}

// Get returns the stored profile, or an empty one when none was saved yet.
func (s *Store) Get() Profile {
	var p Profile
	if err := s.store.Get(ProfileKey, &p); err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("loading profile failed")
		}
		return Profile{}
	}
	return p
}

// Put overwrites the stored profile.
func (s *Store) Put(p Profile) error {
	return s.store.Put(ProfileKey, p)
}

// Actor resolves the acting user for audit entries and approvals, falling
// back to the historical display defaults when no profile was saved.
func (s *Store) Actor() report.Actor {
	p := s.Get()
	actor := report.Actor{Name: p.FullName, Role: p.Role}
	if actor.Name == "" {
		actor.Name = "Dr. User"
	}
	if actor.Role == "" {
		actor.Role = "Radiologist"
	}
	return actor
}

// Defaults supplies footer/header fallback values for document normalization.
func (s *Store) Defaults() report.Defaults {
	p := s.Get()
	return report.Defaults{
		HospitalName: p.HospitalName,
		Department:   p.Department,
		PreparedBy:   p.FullName,
	}
}
