package marks

import (
	"fmt"
	"sort"
)

// Op is a mark operation, used both as trigger action and trigger condition.
type Op int

const (
	OpMark Op = iota + 1
	OpUnmark
)

func (o Op) String() string {
	switch o {
	case OpMark:
		return "mark"
	case OpUnmark:
		return "unmark"
	default:
		return "op(" + fmt.Sprint(int(o)) + ")"
	}
}

// Trigger applies Op to Mark whenever the owning mark sees On.
type Trigger struct {
	Mark string
	Op   Op
	On   Op
}

type Definition struct {
	Name            string
	Description     string
	Help            string
	CommentRequired bool
	UserCanSet      bool
	UserCanClear    bool
	AppendTimestamp bool
	Triggers        []Trigger
}

// Marks cleared on a package once it builds.
var TerminalMarks = []string{"outdated", "stuck", "ready", "outdated_dep", "missing_dep", "unknown", "ignore", "failing"}

// Marks whose comment may reference other packages as "[pkgname]".
var DependencyMarks = []string{"outdated_dep", "missing_dep"}

const (
	MarkFailing = "failing"
	MarkReady   = "ready"
	MarkUnknown = "unknown"
)

// DefaultDefinitions is the stock mark table.
func DefaultDefinitions() []Definition {
	unmarkOnMark := func(names ...string) []Trigger {
		out := make([]Trigger, len(names))
		for i, n := range names {
			out[i] = Trigger{Mark: n, Op: OpUnmark, On: OpMark}
		}
		return out
	}
	user := func(d Definition) Definition {
		d.UserCanSet, d.UserCanClear = true, true
		return d
	}
	return []Definition{
		user(Definition{Name: "unknown", Description: "special status, ask the claimer",
			Help: "The package has an unidentified problem no other mark covers. Explain it in the comment.", CommentRequired: true}),
		user(Definition{Name: "upstreamed", Description: "waiting for upstream",
			Help: "Needs a fix from upstream: the package's own upstream or the x86_64 distribution.", CommentRequired: true}),
		user(Definition{Name: "outdated", Description: "needs a version bump",
			Help: "Cannot be built because the packaged version is outdated."}),
		user(Definition{Name: "outdated_dep", Description: "needs a dependency bump",
			Help: "Cannot be built because a dependency is outdated. Reference it as [pkgname].", CommentRequired: true}),
		user(Definition{Name: "stuck", Description: "no progress",
			Help: "Very hard to fix, no fix expected soon.", CommentRequired: true}),
		user(Definition{Name: "noqemu", Description: "builds only on real boards",
			Help: "Fails to build only under qemu-user."}),
		user(Definition{Name: "ready", Description: "builds from upstream as is",
			Help: "Can be built right away. Not for packages that need a patch first.", AppendTimestamp: true,
			Triggers: unmarkOnMark("failing", "flaky")}),
		user(Definition{Name: "ignore", Description: "not applicable to riscv64",
			Help: "The package is meaningless on riscv64.",
			Triggers: unmarkOnMark("failing", "flaky", "ready", "missing_dep", "outdated_dep", "outdated", "noqemu")}),
		user(Definition{Name: "missing_dep", Description: "missing dependency",
			Help: "A dependency is missing. Reference it as [pkgname].", CommentRequired: true}),
		user(Definition{Name: "flaky", Description: "fails to build at random",
			Help: "May need several build attempts.", CommentRequired: true,
			Triggers: unmarkOnMark("ready")}),
		{Name: "failing", Description: "cannot be built",
			Help: "CI reported a build failure. Managed by CI, do not set or clear by hand.", AppendTimestamp: true,
			Triggers: unmarkOnMark("ready")},
		user(Definition{Name: "nocheck", Description: "fails its tests",
			Help: "Only builds with --nocheck.", CommentRequired: true, AppendTimestamp: true}),
		user(Definition{Name: "important", Description: "important package",
			Help: "Needs extra attention."}),
	}
}

// Registry is a validated, read-only set of definitions.
type Registry struct {
	byName map[string]Definition
	names  []string
}

// NewRegistry validates defs: names are unique, triggers name known marks
// and no trigger names its own mark.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("mark definition without name")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate mark definition %q", d.Name)
		}
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	for _, d := range defs {
		for _, t := range d.Triggers {
			if t.Mark == d.Name {
				return nil, fmt.Errorf("mark %q: trigger names its own mark", d.Name)
			}
			if _, ok := r.byName[t.Mark]; !ok {
				return nil, fmt.Errorf("mark %q: trigger names unknown mark %q", d.Name, t.Mark)
			}
			if (t.Op != OpMark && t.Op != OpUnmark) || (t.On != OpMark && t.On != OpUnmark) {
				return nil, fmt.Errorf("mark %q: invalid trigger ops", d.Name)
			}
		}
	}
	return r, nil
}

// MustDefaultRegistry panics if the stock table is invalid.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDefinitions())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names lists mark names in table order.
func (r *Registry) Names() []string { return append([]string(nil), r.names...) }

// SortedNames lists mark names alphabetically.
func (r *Registry) SortedNames() []string {
	out := r.Names()
	sort.Strings(out)
	return out
}
