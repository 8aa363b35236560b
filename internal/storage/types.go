package storage

import (
	"errors"
	"time"
)

var (
	// ErrStoreRead means neither the primary nor the backup copy of a
	// document could be read. It is fatal at startup.
	ErrStoreRead = errors.New("storage: read failed")
	// ErrStoreWrite wraps any failure to persist a document.
	ErrStoreWrite = errors.New("storage: write failed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON documents under Path (a directory)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Kind names a persisted document.
type Kind string

const (
	KindClaims Kind = "claims"
	KindMarks  Kind = "marks"
)

// DocName is the on-disk base name of a kind.
func (k Kind) DocName() string {
	switch k {
	case KindClaims:
		return "packageStatus"
	case KindMarks:
		return "packageMarks"
	default:
		return string(k)
	}
}

// ---- Records ----

// PackageRef is one claimed package. LastActive is unix milliseconds.
type PackageRef struct {
	Name       string `json:"name"`
	LastActive int64  `json:"lastActive"`
}

func (p PackageRef) LastActiveTime() time.Time { return time.UnixMilli(p.LastActive) }

// Claim is one user's claim record. Packages may be empty.
type Claim struct {
	UserID      int64        `json:"userid"`
	DisplayName string       `json:"username,omitempty"`
	Packages    []PackageRef `json:"packages"`
}

// Setter identifies who set a mark.
type Setter struct {
	URL   string `json:"url"`
	UID   int64  `json:"uid"`
	Alias string `json:"alias"`
}

type MarkRecord struct {
	Name    string  `json:"name"`
	By      *Setter `json:"by"`
	Comment string  `json:"comment"`
}

// PackageMarks holds the marks of one package, sorted by name.
type PackageMarks struct {
	Package string       `json:"name"`
	Marks   []MarkRecord `json:"marks"`
}
