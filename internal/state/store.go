// Package state owns the in-memory claim and mark records and writes them
// through a storage.Backend. Callers never touch the slices directly: reads
// return copies and every mutation goes through a method.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rvbot/internal/storage"
	logx "rvbot/pkg/logx"
)

type Store struct {
	backend storage.Backend
	log     logx.Logger
	now     func() time.Time

	mu     sync.RWMutex
	claims []storage.Claim
	marks  []storage.PackageMarks
}

func New(backend storage.Backend, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		backend: backend,
		log:     log.With(logx.String("comp", "state")),
		now:     time.Now,
		claims:  []storage.Claim{},
		marks:   []storage.PackageMarks{},
	}
}

// Load reads both documents, upgrading legacy shapes. Upgraded documents
// are written back right away.
func (s *Store) Load(ctx context.Context) error {
	rawClaims, err := s.backend.Load(ctx, storage.KindClaims)
	if err != nil {
		return err
	}
	claims, claimsUpgraded, err := storage.DecodeClaims(rawClaims, s.now())
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStoreRead, err)
	}
	rawMarks, err := s.backend.Load(ctx, storage.KindMarks)
	if err != nil {
		return err
	}
	marks, marksUpgraded, err := storage.DecodeMarks(rawMarks)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStoreRead, err)
	}

	s.mu.Lock()
	s.claims = claims
	s.marks = marks
	s.mu.Unlock()

	s.log.Info("state loaded", logx.Int("claims", len(claims)), logx.Int("marked_packages", len(marks)))
	if claimsUpgraded {
		s.log.Info("claims upgraded to current schema")
		if err := s.SaveClaims(ctx); err != nil {
			return err
		}
	}
	if marksUpgraded {
		s.log.Info("marks upgraded to current schema")
		if err := s.SaveMarks(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveClaims(ctx context.Context) error {
	s.mu.RLock()
	b, err := storage.EncodeClaims(s.claims)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStoreWrite, err)
	}
	return s.backend.Save(ctx, storage.KindClaims, b)
}

func (s *Store) SaveMarks(ctx context.Context) error {
	s.mu.RLock()
	b, err := storage.EncodeMarks(s.marks)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStoreWrite, err)
	}
	return s.backend.Save(ctx, storage.KindMarks, b)
}

// Flush persists both documents. Used at shutdown.
func (s *Store) Flush(ctx context.Context) error {
	errClaims := s.SaveClaims(ctx)
	errMarks := s.SaveMarks(ctx)
	if errClaims != nil {
		return errClaims
	}
	return errMarks
}

// ---- Claims ----

// Owner returns the claim holding pkg.
func (s *Store) Owner(pkg string) (storage.Claim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.claims {
		for _, p := range c.Packages {
			if p.Name == pkg {
				return cloneClaim(c), true
			}
		}
	}
	return storage.Claim{}, false
}

// Claim returns the record of a user.
func (s *Store) Claim(userID int64) (storage.Claim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.claims {
		if c.UserID == userID {
			return cloneClaim(c), true
		}
	}
	return storage.Claim{}, false
}

func (s *Store) Claims() []storage.Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Claim, len(s.claims))
	for i, c := range s.claims {
		out[i] = cloneClaim(c)
	}
	return out
}

// AddClaim records pkg under userID, creating the user's record on first
// use. It does not check other owners.
func (s *Store) AddClaim(userID int64, displayName, pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := storage.PackageRef{Name: pkg, LastActive: s.now().UnixMilli()}
	for i := range s.claims {
		if s.claims[i].UserID == userID {
			if displayName != "" {
				s.claims[i].DisplayName = displayName
			}
			s.claims[i].Packages = append(s.claims[i].Packages, ref)
			return
		}
	}
	s.claims = append(s.claims, storage.Claim{
		UserID:      userID,
		DisplayName: displayName,
		Packages:    []storage.PackageRef{ref},
	})
}

// RemoveClaim drops pkg from whoever holds it. The user record stays.
func (s *Store) RemoveClaim(pkg string) (storage.Claim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.claims {
		c := &s.claims[i]
		for j, p := range c.Packages {
			if p.Name != pkg {
				continue
			}
			prev := cloneClaim(*c)
			c.Packages = append(c.Packages[:j], c.Packages[j+1:]...)
			return prev, true
		}
	}
	return storage.Claim{}, false
}

// Touch refreshes the activity time of a claimed package.
func (s *Store) Touch(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UnixMilli()
	for i := range s.claims {
		for j := range s.claims[i].Packages {
			if s.claims[i].Packages[j].Name == pkg {
				s.claims[i].Packages[j].LastActive = now
				return true
			}
		}
	}
	return false
}

// ---- Marks ----

func (s *Store) Marks(pkg string) []storage.MarkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.findPackage(pkg); ok {
		return cloneMarks(s.marks[i].Marks)
	}
	return nil
}

func (s *Store) Mark(pkg, name string) (storage.MarkRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.findPackage(pkg)
	if !ok {
		return storage.MarkRecord{}, false
	}
	for _, m := range s.marks[i].Marks {
		if m.Name == name {
			return cloneMark(m), true
		}
	}
	return storage.MarkRecord{}, false
}

// AllMarks returns every package record, sorted by package name.
func (s *Store) AllMarks() []storage.PackageMarks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.PackageMarks, len(s.marks))
	for i, pm := range s.marks {
		out[i] = storage.PackageMarks{Package: pm.Package, Marks: cloneMarks(pm.Marks)}
	}
	return out
}

// PutMark inserts or replaces rec on pkg, keeping marks sorted by name.
// It returns the replaced record, if any.
func (s *Store) PutMark(pkg string, rec storage.MarkRecord) (prev storage.MarkRecord, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec = cloneMark(rec)
	i, ok := s.findPackage(pkg)
	if !ok {
		s.marks = append(s.marks, storage.PackageMarks{})
		copy(s.marks[i+1:], s.marks[i:])
		s.marks[i] = storage.PackageMarks{Package: pkg, Marks: []storage.MarkRecord{rec}}
		return storage.MarkRecord{}, false
	}
	ms := s.marks[i].Marks
	j := sort.Search(len(ms), func(k int) bool { return ms[k].Name >= rec.Name })
	if j < len(ms) && ms[j].Name == rec.Name {
		prev = ms[j]
		ms[j] = rec
		return prev, true
	}
	ms = append(ms, storage.MarkRecord{})
	copy(ms[j+1:], ms[j:])
	ms[j] = rec
	s.marks[i].Marks = ms
	return storage.MarkRecord{}, false
}

// DeleteMark removes a mark and prunes the package record once empty.
func (s *Store) DeleteMark(pkg, name string) (storage.MarkRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.findPackage(pkg)
	if !ok {
		return storage.MarkRecord{}, false
	}
	ms := s.marks[i].Marks
	for j, m := range ms {
		if m.Name != name {
			continue
		}
		s.marks[i].Marks = append(ms[:j], ms[j+1:]...)
		if len(s.marks[i].Marks) == 0 {
			s.marks = append(s.marks[:i], s.marks[i+1:]...)
		}
		return m, true
	}
	return storage.MarkRecord{}, false
}

// findPackage binary-searches the sorted package list. When absent, the
// returned index is the insertion point.
func (s *Store) findPackage(pkg string) (int, bool) {
	i := sort.Search(len(s.marks), func(k int) bool { return s.marks[k].Package >= pkg })
	return i, i < len(s.marks) && s.marks[i].Package == pkg
}

func cloneClaim(c storage.Claim) storage.Claim {
	c.Packages = append([]storage.PackageRef{}, c.Packages...)
	return c
}

func cloneMark(m storage.MarkRecord) storage.MarkRecord {
	if m.By != nil {
		by := *m.By
		m.By = &by
	}
	return m
}

func cloneMarks(ms []storage.MarkRecord) []storage.MarkRecord {
	out := make([]storage.MarkRecord, len(ms))
	for i, m := range ms {
		out[i] = cloneMark(m)
	}
	return out
}
