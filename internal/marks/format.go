package marks

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"rvbot/internal/storage"
	"rvbot/pkg/tgui"
)

const timestampLayout = "2006/1/2 15:04:05"

// FormatTime renders t in loc as "2024/5/1 12:00:00 (UTC+8)".
func FormatTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(timestampLayout) + " (" + utcOffset(t) + ")"
}

func utcOffset(t time.Time) string {
	_, off := t.Zone()
	sign := "+"
	if off < 0 {
		sign = "-"
		off = -off
	}
	h, m := off/3600, off%3600/60
	if m == 0 {
		return fmt.Sprintf("UTC%s%d", sign, h)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, h, m)
}

func appendTimestamp(comment string, t time.Time, loc *time.Location) string {
	ts := FormatTime(t, loc)
	if comment == "" {
		return ts
	}
	return comment + " " + ts
}

// FormatMark renders one mark as "(#name description “comment” by alias)".
func (e *Engine) FormatMark(rec storage.MarkRecord) tgui.H {
	parts := []tgui.H{tgui.Esc("#" + rec.Name)}
	if def, ok := e.defs.Get(rec.Name); ok && def.Description != "" {
		parts = append(parts, tgui.Esc(def.Description))
	}
	if rec.Comment != "" {
		parts = append(parts, tgui.Esc("“"+rec.Comment+"”"))
	}
	if rec.By != nil {
		parts = append(parts, tgui.Raw("by"), e.mentionSetter(rec.By))
	}
	return tgui.H("(" + tgui.JoinH(" ", parts...).String() + ")")
}

// FormatMarks renders marks space separated.
func (e *Engine) FormatMarks(recs []storage.MarkRecord) tgui.H {
	parts := make([]tgui.H, len(recs))
	for i, r := range recs {
		parts[i] = e.FormatMark(r)
	}
	return tgui.JoinH(" ", parts...)
}

func (e *Engine) mentionSetter(s *storage.Setter) tgui.H {
	alias := s.Alias
	if alias == "" {
		alias = e.Alias(s.UID)
	}
	if s.UID == 0 {
		return tgui.Esc(alias)
	}
	return tgui.Mention(alias, s.UID)
}

// Mention links to uid using its alias.
func (e *Engine) Mention(uid int64) tgui.H {
	return tgui.Mention(e.Alias(uid), uid)
}

// LogLink returns the build log URL of pkg, or "" without a template.
func (e *Engine) LogLink(pkg string) string {
	tpl := e.config().LogURL
	if tpl == "" {
		return ""
	}
	return strings.ReplaceAll(tpl, "{pkgname}", pkg)
}

// Describe renders the owner and marks of pkg for the /more command.
func (e *Engine) Describe(pkg string) tgui.H {
	var l tgui.Lines
	l.Add(tgui.Code(pkg))
	if owner, ok := e.store.Owner(pkg); ok {
		l.Add(tgui.JoinH(" ", tgui.Raw("claimed by"), e.Mention(owner.UserID)))
	} else {
		l.Add(tgui.I("not claimed"))
	}
	if recs := e.store.Marks(pkg); len(recs) > 0 {
		l.Add(e.FormatMarks(recs))
	} else {
		l.Add(tgui.I("no marks"))
	}
	if link := e.LogLink(pkg); link != "" {
		l.Add(tgui.Link("build log", link))
	}
	return l.H()
}

// Dump is the public JSON view of claims and marks. Setters are reduced to
// their alias.
type Dump struct {
	WorkList []DumpWork    `json:"workList"`
	MarkList []DumpPackage `json:"markList"`
}

type DumpWork struct {
	Alias    string   `json:"alias"`
	Packages []string `json:"packages"`
}

type DumpPackage struct {
	Name  string     `json:"name"`
	Marks []DumpMark `json:"marks"`
}

type DumpMark struct {
	Name    string      `json:"name"`
	By      *DumpSetter `json:"by"`
	Comment string      `json:"comment"`
}

type DumpSetter struct {
	Alias string `json:"alias"`
}

func (e *Engine) Dump() Dump {
	d := Dump{WorkList: []DumpWork{}, MarkList: []DumpPackage{}}
	for _, c := range e.store.Claims() {
		w := DumpWork{Alias: e.claimAlias(c), Packages: make([]string, len(c.Packages))}
		for i, p := range c.Packages {
			w.Packages[i] = p.Name
		}
		d.WorkList = append(d.WorkList, w)
	}
	for _, pm := range e.store.AllMarks() {
		dp := DumpPackage{Name: pm.Package, Marks: make([]DumpMark, len(pm.Marks))}
		for i, m := range pm.Marks {
			dm := DumpMark{Name: m.Name, Comment: m.Comment}
			if m.By != nil {
				dm.By = &DumpSetter{Alias: m.By.Alias}
			}
			dp.Marks[i] = dm
		}
		d.MarkList = append(d.MarkList, dp)
	}
	return d
}

// StatusEntry is one user's claim list for the /status command.
type StatusEntry struct {
	UserID   int64
	Alias    string
	Packages []storage.PackageRef
}

// Status lists users holding at least one package, by alias.
func (e *Engine) Status() []StatusEntry {
	var out []StatusEntry
	for _, c := range e.store.Claims() {
		if len(c.Packages) == 0 {
			continue
		}
		pkgs := append([]storage.PackageRef(nil), c.Packages...)
		sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
		out = append(out, StatusEntry{UserID: c.UserID, Alias: e.claimAlias(c), Packages: pkgs})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// claimAlias prefers the configured alias, then the name seen on Telegram.
func (e *Engine) claimAlias(c storage.Claim) string {
	e.cfgMu.RLock()
	a := e.cfg.Aliases[c.UserID]
	e.cfgMu.RUnlock()
	switch {
	case a != "":
		return a
	case c.DisplayName != "":
		return c.DisplayName
	}
	return e.Alias(c.UserID)
}
