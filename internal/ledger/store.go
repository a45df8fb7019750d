package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "keygated/internal/errors"
)

// Store is the file-backed ledger. All mutation is read-entire/mutate/
// write-entire behind a single lock; the candidate state is written to disk
// before the in-memory document is replaced, so a failed write never leaves
// memory ahead of what a restart would reload.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc Document

	now func() time.Time
}

// Open loads the ledger from path. A missing file yields an empty ledger;
// malformed content yields an empty ledger and a logged warning rather than
// a startup failure, prioritizing availability at boot.
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("component", "ledger")),
		doc:    emptyDocument(),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.logger.Info("ledger file absent, starting empty",
			slog.String("path", path))
	case err != nil:
		s.logger.Warn("ledger file unreadable, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()))
	default:
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("ledger file malformed, starting empty",
				slog.String("path", path),
				slog.String("error", err.Error()))
			break
		}
		if doc.Requests == nil {
			doc.Requests = []Request{}
		}
		if doc.Issued == nil {
			doc.Issued = map[string]IssuedKey{}
		}
		s.doc = doc
		s.logger.Info("ledger loaded",
			slog.String("path", path),
			slog.Int("requests", len(doc.Requests)),
			slog.Int("issued", len(doc.Issued)))
	}

	return s
}

// Snapshot returns a consistent deep copy of the current ledger state.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

// AppendRequest appends a request to the ordered sequence and persists.
func (s *Store) AppendRequest(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	next.Requests = append(next.Requests, req)
	return s.commit(next)
}

// FindRequest looks up a request by id.
func (s *Store) FindRequest(id string) (Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.doc.Requests {
		if req.ID == id {
			return req, true
		}
	}
	return Request{}, false
}

// UpsertIssued inserts or overwrites the issuance record for rec.Key and
// persists.
func (s *Store) UpsertIssued(rec IssuedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	next.Issued[rec.Key] = rec
	return s.commit(next)
}

// MarkRequestIssued sets a pending request's status to issued. Absent or
// already-issued requests are a no-op, not an error: issuance can be
// triggered without a linked request.
func (s *Store) MarkRequestIssued(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, req := range s.doc.Requests {
		if req.ID == id && req.Status == StatusPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	next := s.doc.clone()
	next.Requests[idx].Status = StatusIssued
	return s.commit(next)
}

// RecordIssuance writes the issuance record and, when requestID names a
// pending request, marks it issued in the same durable write so a crash
// cannot separate the two effects.
func (s *Store) RecordIssuance(rec IssuedKey, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	next.Issued[rec.Key] = rec
	if requestID != "" {
		for i, req := range next.Requests {
			if req.ID == requestID && req.Status == StatusPending {
				next.Requests[i].Status = StatusIssued
				break
			}
		}
	}
	return s.commit(next)
}

// Revoke marks an issued key revoked and persists. Returns false when the
// key was never issued. Re-revoking an already revoked key is idempotent:
// it reports true without touching the stored RevokedAt.
func (s *Store) Revoke(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Issued[key]
	if !ok {
		return false, nil
	}
	if rec.Revoked {
		return true, nil
	}

	now := s.now().UTC()
	rec.Revoked = true
	rec.RevokedAt = &now

	next := s.doc.clone()
	next.Issued[key] = rec
	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// commit durably writes the candidate document, then makes it the in-memory
// state. Callers must hold the write lock.
func (s *Store) commit(next Document) error {
	if err := s.persist(next); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	s.doc = next
	return nil
}

// persist writes the document to a temp file in the target directory and
// renames it over the ledger file, so readers never observe a torn write.
func (s *Store) persist(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}
