package report

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Service is the report repository: it presents one logical, deduplicated
// view of reports stored redundantly in the local and remote adapters and
// routes every mutation to both. Writes are local-first, remote-best-effort.
//
// There is no locking or versioning across operations: two concurrent
// SetStatus calls on the same id are last-write-wins, and the loser's audit
// entry is lost.
type Service struct {
	local   LocalStore
	remote  RemoteStore // nil when no remote is configured
	profile ProfileSource
	logger  zerolog.Logger
}

// NewService builds the repository. remote may be nil; every operation then
// degrades to local-only mode.
func NewService(local LocalStore, remote RemoteStore, profile ProfileSource, logger zerolog.Logger) *Service {
	return &Service{local: local, remote: remote, profile: profile, logger: logger}
}

// RemoteAvailable reports whether a remote store is configured.
func (s *Service) RemoteAvailable() bool { return s.remote != nil }

// Save persists a document to both stores. The local write happens first and
// its failure is logged rather than returned, so a report is never lost to a
// storage hiccup while the clinician is mid-workflow. The remote insert is
// independent; its failure (or the remote being unconfigured) does not roll
// back or block the local copy.
func (s *Service) Save(ctx context.Context, doc Document) *Record {
	rec := NewRecord(doc)
	if err := s.local.Append(rec); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("saving report locally failed")
	} else {
		s.logger.Info().Str("id", rec.ID).Msg("report saved to local store")
	}

	if s.remote == nil {
		s.logger.Warn().Msg("remote store not configured, report saved locally only")
		return rec
	}
	stored, err := s.remote.Insert(ctx, rec)
	if err != nil {
		s.logger.Error().Err(err).Msg("saving report to remote store failed")
		return rec
	}
	s.logger.Info().Str("id", stored.ID).Msg("report saved to remote store")
	return rec
}

// List merges both stores into one deduplicated collection, newest first.
// Every remote record is taken; local records are appended only when their
// identity key (the document-level report id, falling back to the storage id)
// is not already present. The remote copy therefore wins when both stores
// hold the same logical report. The merged result is re-sorted by created_at
// so local-only records interleave correctly with the remote ones.
func (s *Service) List(ctx context.Context) []*Record {
	var merged []*Record
	seen := make(map[string]struct{})

	if s.remote != nil {
		remote, err := s.remote.SelectAll(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("fetching remote reports failed, falling back to local")
		} else {
			for _, rec := range remote {
				merged = append(merged, rec)
				seen[rec.IdentityKey()] = struct{}{}
			}
		}
	}

	for _, rec := range s.local.LoadAll() {
		key := rec.IdentityKey()
		if _, ok := seen[key]; ok {
			continue
		}
		merged = append(merged, rec)
		seen[key] = struct{}{}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

// Get resolves a single record: remote by storage id first, then a local scan
// by storage id or identity key.
func (s *Service) Get(ctx context.Context, id string) (*Record, bool) {
	if s.remote != nil && !strings.HasPrefix(id, LocalIDPrefix) {
		if rec, err := s.remote.SelectOne(ctx, id); err == nil {
			return rec, true
		} else if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("id", id).Msg("remote fetch failed, scanning local store")
		}
	}
	if rec := s.findLocal(id, ""); rec != nil {
		return rec, true
	}
	return nil, false
}

// Patch shallow-merges the supplied top-level document fields into the remote
// copy of the report. Local records are intentionally left untouched: the
// remote store is authoritative for free-form edits, so a report that exists
// only locally silently misses patch updates.
func (s *Service) Patch(ctx context.Context, id string, updates map[string]json.RawMessage) bool {
	if s.remote == nil {
		return false
	}
	current, err := s.remote.SelectOne(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("id", id).Msg("fetching report for patch failed")
		}
		return false
	}

	merged, err := mergeDocument(current.ReportData, updates)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("merging patch failed")
		return false
	}
	if err := s.remote.UpdateData(ctx, id, merged); err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("writing patched report failed")
		return false
	}
	return true
}

// mergeDocument overlays top-level JSON fields onto a document, mirroring a
// shallow object spread: a supplied field replaces the whole section.
func mergeDocument(doc Document, updates map[string]json.RawMessage) (Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return doc, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return doc, err
	}
	for k, v := range updates {
		obj[k] = v
	}
	raw, err = json.Marshal(obj)
	if err != nil {
		return doc, err
	}
	var merged Document
	if err := json.Unmarshal(raw, &merged); err != nil {
		return doc, err
	}
	return merged, nil
}

// SetStatus applies a workflow transition to the report identified by id.
// The current document is resolved remote-first with a local fallback; the
// mutated document is then written back to both stores independently. The
// call succeeds when either write path succeeds, so partial connectivity
// never blocks the review workflow.
func (s *Service) SetStatus(ctx context.Context, id string, to Status, data ActionData) bool {
	doc, fromRemote := s.resolveDocument(ctx, id)
	if doc == nil {
		s.logger.Warn().Str("id", id).Msg("report not found in either store, status change dropped")
		return false
	}

	if err := ApplyTransition(doc, to, data, s.profile.Actor()); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("status change refused")
		return false
	}

	remoteOK := false
	if s.remote != nil && fromRemote {
		if err := s.remote.UpdateData(ctx, id, *doc); err != nil {
			s.logger.Error().Err(err).Str("id", id).Msg("remote status update failed")
		} else {
			remoteOK = true
		}
	}

	localOK := s.updateLocal(id, doc)
	if !remoteOK && !localOK {
		return false
	}
	return true
}

// resolveDocument fetches the full current document for id: remote first,
// then a local scan matching storage id or identity key. The second return
// value reports whether the remote copy was found, which gates the remote
// write-back.
func (s *Service) resolveDocument(ctx context.Context, id string) (*Document, bool) {
	if s.remote != nil && !strings.HasPrefix(id, LocalIDPrefix) {
		rec, err := s.remote.SelectOne(ctx, id)
		if err == nil {
			doc := rec.ReportData
			return &doc, true
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("id", id).Msg("remote fetch failed, scanning local store")
		}
	}
	if rec := s.findLocal(id, ""); rec != nil {
		doc := rec.ReportData
		return &doc, false
	}
	return nil, false
}

func (s *Service) findLocal(id, identityKey string) *Record {
	for _, rec := range s.local.LoadAll() {
		if rec.ID == id || rec.ReportData.ReportHeader.ReportID == id {
			return rec
		}
		if identityKey != "" && rec.ReportData.ReportHeader.ReportID == identityKey {
			return rec
		}
	}
	return nil
}

// updateLocal overwrites the matching local record's document and re-syncs
// the denormalized urgency column. Returns false when no local record
// matches.
func (s *Service) updateLocal(id string, doc *Document) bool {
	records := s.local.LoadAll()
	identityKey := doc.ReportHeader.ReportID
	for _, rec := range records {
		if rec.ID != id && rec.ReportData.ReportHeader.ReportID != id &&
			(identityKey == "" || rec.ReportData.ReportHeader.ReportID != identityKey) {
			continue
		}
		rec.ReportData = *doc
		rec.Urgency = doc.Urgency
		if err := s.local.SaveAll(records); err != nil {
			s.logger.Error().Err(err).Str("id", rec.ID).Msg("local status update failed")
			return false
		}
		return true
	}
	return false
}

// AddComment appends a collaboration comment to the report and persists the
// updated document through the same dual-write path as SetStatus.
func (s *Service) AddComment(ctx context.Context, id, text string) (*Comment, bool) {
	if text == "" {
		return nil, false
	}
	doc, fromRemote := s.resolveDocument(ctx, id)
	if doc == nil {
		return nil, false
	}
	c := AppendComment(doc, text, s.profile.Actor())

	remoteOK := false
	if s.remote != nil && fromRemote {
		if err := s.remote.UpdateData(ctx, id, *doc); err != nil {
			s.logger.Error().Err(err).Str("id", id).Msg("remote comment update failed")
		} else {
			remoteOK = true
		}
	}
	localOK := s.updateLocal(id, doc)
	if !remoteOK && !localOK {
		return nil, false
	}
	return &c, true
}

// ClearAll wipes the full collection from both stores. The local clear always
// runs and is not part of the return contract; only a remote deletion error
// turns the result false. With no remote configured the operation reports
// success.
func (s *Service) ClearAll(ctx context.Context) bool {
	if err := s.local.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("clearing local reports failed")
	}
	if s.remote == nil {
		return true
	}
	if err := s.remote.DeleteAll(ctx); err != nil {
		s.logger.Error().Err(err).Msg("clearing remote reports failed")
		return false
	}
	return true
}

// NormalizeAndSave normalizes an externally produced document against the
// stored profile defaults and persists it.
func (s *Service) NormalizeAndSave(ctx context.Context, doc Document, pctx PatientContext) *Record {
	doc = Normalize(doc, pctx, s.profile.Defaults())
	return s.Save(ctx, doc)
}
