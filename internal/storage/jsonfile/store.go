// Package jsonfile stores bot state in a single JSON document on disk.
//
// The document layout is {"users": {...}, "transactions": {...}}, keyed by
// chat id and signature respectively. Every mutation rewrites the whole file
// through a temp file and rename, under one mutex.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/storage"
)

// document is the on-disk layout.
type document struct {
	Users        map[string]*domain.User `json:"users"`
	Transactions map[string]seenMark     `json:"transactions"`
}

// seenMark is the value stored per signature: the unix millisecond time it
// was marked. Older files store a bare true, read back as zero.
type seenMark int64

func (m *seenMark) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "true":
		*m = 0
		return nil
	case "false", "null":
		*m = -1
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("transaction mark: %w", err)
	}
	*m = seenMark(v)
	return nil
}

// Store is a file-backed implementation of storage.Store.
type Store struct {
	path string
	mu   sync.Mutex
	doc  document
	now  func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open loads the document at path, creating an empty one if the file does not exist.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc:  emptyDocument(),
		now:  time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if s.doc.Users == nil {
		s.doc.Users = make(map[string]*domain.User)
	}
	if s.doc.Transactions == nil {
		s.doc.Transactions = make(map[string]seenMark)
	}
	for sig, m := range s.doc.Transactions {
		if m < 0 {
			delete(s.doc.Transactions, sig)
		}
	}

	return s, nil
}

func emptyDocument() document {
	return document{
		Users:        make(map[string]*domain.User),
		Transactions: make(map[string]seenMark),
	}
}

func userKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// flush writes the document atomically. Caller holds mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// GetUser retrieves a user by chat id.
func (s *Store) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	if !storage.ValidUserID(userID) {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.doc.Users[userKey(userID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := u.Clone()
	out.ID = userID
	return out, nil
}

// UpdateUser applies fn and persists the document. The in-memory state is
// only changed when the write succeeds.
func (s *Store) UpdateUser(_ context.Context, userID int64, fn storage.UserMutator) (*domain.User, error) {
	if !storage.ValidUserID(userID) || fn == nil {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(userID)
	prev, existed := s.doc.Users[key]

	var u *domain.User
	if existed {
		u = prev.Clone()
	} else {
		u = &domain.User{CreatedAt: s.now().UTC()}
	}
	u.ID = userID

	if err := fn(u); err != nil {
		return nil, err
	}
	u.ID = userID

	s.doc.Users[key] = u
	if err := s.flush(); err != nil {
		if existed {
			s.doc.Users[key] = prev
		} else {
			delete(s.doc.Users, key)
		}
		return nil, err
	}
	return u.Clone(), nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(_ context.Context, userID int64) error {
	if !storage.ValidUserID(userID) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(userID)
	prev, ok := s.doc.Users[key]
	if !ok {
		return nil
	}

	delete(s.doc.Users, key)
	if err := s.flush(); err != nil {
		s.doc.Users[key] = prev
		return err
	}
	return nil
}

// ListTrackingUsers returns users with an active tracked address, ordered by id.
func (s *Store) ListTrackingUsers(_ context.Context) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.User
	for key, u := range s.doc.Users {
		if !u.IsTracking() {
			continue
		}
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		c := u.Clone()
		c.ID = id
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsTransactionSeen checks if a signature has been processed.
func (s *Store) IsTransactionSeen(_ context.Context, signature string) (bool, error) {
	if signature == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.doc.Transactions[signature]
	return ok, nil
}

// MarkTransactionSeen records that a signature has been processed.
func (s *Store) MarkTransactionSeen(_ context.Context, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Transactions[signature]; ok {
		return nil
	}

	s.doc.Transactions[signature] = seenMark(s.now().UnixMilli())
	if err := s.flush(); err != nil {
		delete(s.doc.Transactions, signature)
		return err
	}
	return nil
}

// LoadSeenTransactions returns up to limit signatures, most recently marked first.
func (s *Store) LoadSeenTransactions(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sigs := make([]string, 0, len(s.doc.Transactions))
	for sig := range s.doc.Transactions {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool {
		mi, mj := s.doc.Transactions[sigs[i]], s.doc.Transactions[sigs[j]]
		if mi != mj {
			return mi > mj
		}
		return sigs[i] < sigs[j]
	})

	if limit > 0 && limit < len(sigs) {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

// Close is a no-op; every mutation is already on disk.
func (s *Store) Close(_ context.Context) error {
	return nil
}
