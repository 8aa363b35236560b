package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "rvbot/pkg/logx"
)

func TestDecodeClaimsUpgradesLegacy(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(1700000000000)
	raw := []byte(`[
		{"userid": 1, "username": "alice", "packages": ["gcc", "[object Object]", {"name": "zlib", "lastActive": 5}]},
		{"userid": 2, "packages": ["gcc", "llvm"]}
	]`)
	claims, upgraded, err := DecodeClaims(raw, now)
	if err != nil {
		t.Fatalf("DecodeClaims: %v", err)
	}
	if !upgraded {
		t.Fatal("legacy input must report upgraded")
	}
	if len(claims) != 2 {
		t.Fatalf("claims = %+v", claims)
	}
	a := claims[0]
	if a.DisplayName != "alice" || len(a.Packages) != 2 ||
		a.Packages[0] != (PackageRef{Name: "gcc", LastActive: now.UnixMilli()}) ||
		a.Packages[1] != (PackageRef{Name: "zlib", LastActive: 5}) {
		t.Fatalf("alice = %+v", a)
	}
	b := claims[1]
	if len(b.Packages) != 1 || b.Packages[0].Name != "llvm" {
		t.Fatalf("a package stays with its first owner, got %+v", b)
	}
}

func TestDecodeClaimsCurrentSchemaIsNotUpgraded(t *testing.T) {
	t.Parallel()
	raw := []byte(`[{"userid": 1, "username": "alice", "packages": [{"name": "gcc", "lastActive": 5}]}, {"userid": 3, "packages": []}]`)
	claims, upgraded, err := DecodeClaims(raw, time.Now())
	if err != nil || upgraded || len(claims) != 2 {
		t.Fatalf("DecodeClaims = %+v, %v, %v", claims, upgraded, err)
	}
}

func TestDecodeMarksRoundTripSatisfiesSchema(t *testing.T) {
	t.Parallel()
	raw := []byte(`[
		{"name": "zlib", "marks": ["ready", {"name": "flaky", "by": null, "comment": 42}]},
		{"name": "gcc", "marks": [
			{"name": "outdated", "by": {"url": "tg://user?id=1", "uid": 1, "alias": "alice"}, "comment": "old"},
			{"name": "outdated", "by": null, "comment": "new"},
			{"name": "failing"}
		]},
		{"name": "empty", "marks": []}
	]`)
	marks, upgraded, err := DecodeMarks(raw)
	if err != nil {
		t.Fatalf("DecodeMarks: %v", err)
	}
	if !upgraded {
		t.Fatal("legacy input must report upgraded")
	}

	// Persist and load again: the result must be stable and not need upgrading.
	enc, err := EncodeMarks(marks)
	if err != nil {
		t.Fatal(err)
	}
	again, upgraded2, err := DecodeMarks(enc)
	if err != nil || upgraded2 {
		t.Fatalf("re-decode upgraded=%v err=%v\n%s", upgraded2, err, enc)
	}
	if len(again) != 2 || again[0].Package != "gcc" || again[1].Package != "zlib" {
		t.Fatalf("packages = %+v", again)
	}
	for _, pm := range again {
		seen := map[string]bool{}
		for i, m := range pm.Marks {
			if seen[m.Name] {
				t.Fatalf("%s: duplicate mark %q", pm.Package, m.Name)
			}
			seen[m.Name] = true
			if i > 0 && pm.Marks[i-1].Name > m.Name {
				t.Fatalf("%s: marks not sorted", pm.Package)
			}
		}
	}
	gcc := again[0].Marks
	if len(gcc) != 2 || gcc[0].Name != "failing" || gcc[1].Name != "outdated" || gcc[1].Comment != "new" || gcc[1].By != nil {
		t.Fatalf("gcc marks = %+v (duplicate names keep the last)", gcc)
	}
	zlib := again[1].Marks
	if zlib[0].Name != "flaky" || zlib[0].Comment != "" || zlib[1].Name != "ready" || zlib[1].By != nil {
		t.Fatalf("zlib marks = %+v", zlib)
	}
	if !strings.Contains(string(enc), `"comment": ""`) {
		t.Fatalf("comment must always be a string:\n%s", enc)
	}
}

func TestFileBackendBackupFallback(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	be, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()
	ctx := context.Background()

	if b, err := be.Load(ctx, KindMarks); err != nil || b != nil {
		t.Fatalf("empty store Load = %q, %v", b, err)
	}
	if err := be.Save(ctx, KindMarks, []byte(`[]`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, name := range []string{"packageMarks.json", "packageMarks.bak.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}

	// Corrupt primary: backup wins.
	if err := os.WriteFile(filepath.Join(dir, "packageMarks.json"), []byte(`[{`), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := be.Load(ctx, KindMarks)
	if err != nil || string(b) != `[]` {
		t.Fatalf("Load with corrupt primary = %q, %v", b, err)
	}

	// Both corrupt: fatal read error.
	if err := os.WriteFile(filepath.Join(dir, "packageMarks.bak.json"), []byte(`nope`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := be.Load(ctx, KindMarks); !errors.Is(err, ErrStoreRead) {
		t.Fatalf("Load with both corrupt = %v, want ErrStoreRead", err)
	}
}

func TestWrongShapePrimaryFallsBackToBackup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	be, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()
	ctx := context.Background()

	doc := `[{"userid":1,"username":"alice","packages":[{"name":"gcc","lastActive":1}]}]`
	if err := be.Save(ctx, KindClaims, []byte(doc)); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{`{}`, `"gcc"`, `[1, 2]`} {
		if err := os.WriteFile(filepath.Join(dir, "packageStatus.json"), []byte(bad), 0o644); err != nil {
			t.Fatal(err)
		}
		b, err := be.Load(ctx, KindClaims)
		if err != nil || string(b) != doc {
			t.Errorf("primary %s: Load = %q, %v; want backup", bad, b, err)
		}
	}
}

func TestSQLiteBackendSaveLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rvbot.db")
	be, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer be.Close()
	ctx := context.Background()

	if b, err := be.Load(ctx, KindClaims); err != nil || b != nil {
		t.Fatalf("empty Load = %q, %v", b, err)
	}
	doc := []byte(`[{"userid":1,"packages":[]}]`)
	if err := be.Save(ctx, KindClaims, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := be.Load(ctx, KindClaims)
	if err != nil || string(got) != string(doc) {
		t.Fatalf("Load = %q, %v", got, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo", Path: t.TempDir()}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
