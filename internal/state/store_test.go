package state

import (
	"context"
	"errors"
	"testing"

	"rvbot/internal/storage"
	logx "rvbot/pkg/logx"
)

// memBackend is an in-memory storage.Backend.
type memBackend struct {
	docs    map[storage.Kind][]byte
	saves   map[storage.Kind]int
	failErr error
}

func newMemBackend() *memBackend {
	return &memBackend{docs: map[storage.Kind][]byte{}, saves: map[storage.Kind]int{}}
}

func (m *memBackend) Load(_ context.Context, kind storage.Kind) ([]byte, error) {
	return m.docs[kind], nil
}

func (m *memBackend) Save(_ context.Context, kind storage.Kind, data []byte) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.docs[kind] = append([]byte(nil), data...)
	m.saves[kind]++
	return nil
}

func (m *memBackend) Close() error { return nil }

func TestLoadWritesBackUpgradedDocuments(t *testing.T) {
	t.Parallel()
	be := newMemBackend()
	be.docs[storage.KindClaims] = []byte(`[{"userid": 1, "packages": ["gcc"]}]`)
	be.docs[storage.KindMarks] = []byte(`[{"name": "gcc", "marks": [{"name": "ready", "by": null, "comment": ""}]}]`)

	s := New(be, logx.Nop())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if be.saves[storage.KindClaims] != 1 {
		t.Fatal("upgraded claims must be written back")
	}
	if be.saves[storage.KindMarks] != 0 {
		t.Fatal("current-schema marks must not be rewritten")
	}
	if c, ok := s.Owner("gcc"); !ok || c.UserID != 1 {
		t.Fatalf("Owner(gcc) = %+v, %v", c, ok)
	}
}

func TestMarksStaySortedAndPrune(t *testing.T) {
	t.Parallel()
	s := New(newMemBackend(), logx.Nop())
	s.PutMark("zlib", storage.MarkRecord{Name: "ready"})
	s.PutMark("gcc", storage.MarkRecord{Name: "outdated", Comment: "a"})
	s.PutMark("gcc", storage.MarkRecord{Name: "flaky"})
	prev, replaced := s.PutMark("gcc", storage.MarkRecord{Name: "outdated", Comment: "b"})
	if !replaced || prev.Comment != "a" {
		t.Fatalf("replace = %+v, %v", prev, replaced)
	}

	all := s.AllMarks()
	if len(all) != 2 || all[0].Package != "gcc" || all[1].Package != "zlib" {
		t.Fatalf("packages = %+v", all)
	}
	if ms := all[0].Marks; len(ms) != 2 || ms[0].Name != "flaky" || ms[1].Name != "outdated" || ms[1].Comment != "b" {
		t.Fatalf("gcc marks = %+v", ms)
	}

	if _, ok := s.DeleteMark("zlib", "ready"); !ok {
		t.Fatal("DeleteMark should find zlib/ready")
	}
	if len(s.AllMarks()) != 1 {
		t.Fatal("empty package record must be pruned")
	}
	if _, ok := s.DeleteMark("zlib", "ready"); ok {
		t.Fatal("second delete must report absent")
	}
}

func TestClaimsReleaseKeepsUserRecord(t *testing.T) {
	t.Parallel()
	s := New(newMemBackend(), logx.Nop())
	s.AddClaim(7, "alice", "gcc")
	s.AddClaim(7, "", "llvm")
	prev, ok := s.RemoveClaim("gcc")
	if !ok || prev.UserID != 7 {
		t.Fatalf("RemoveClaim = %+v, %v", prev, ok)
	}
	c, ok := s.Claim(7)
	if !ok || c.DisplayName != "alice" || len(c.Packages) != 1 || c.Packages[0].Name != "llvm" {
		t.Fatalf("claim = %+v", c)
	}
	if _, ok := s.Owner("gcc"); ok {
		t.Fatal("gcc must be unowned")
	}
}

func TestReadsReturnCopies(t *testing.T) {
	t.Parallel()
	s := New(newMemBackend(), logx.Nop())
	s.PutMark("gcc", storage.MarkRecord{Name: "ready", By: &storage.Setter{Alias: "alice"}})
	ms := s.Marks("gcc")
	ms[0].By.Alias = "mallory"
	if m, _ := s.Mark("gcc", "ready"); m.By.Alias != "alice" {
		t.Fatal("Marks must not alias internal records")
	}
}

func TestSaveSurfacesBackendError(t *testing.T) {
	t.Parallel()
	be := newMemBackend()
	be.failErr = errors.New("disk full")
	s := New(be, logx.Nop())
	if err := s.Flush(context.Background()); !errors.Is(err, be.failErr) {
		t.Fatalf("Flush = %v", err)
	}
}
