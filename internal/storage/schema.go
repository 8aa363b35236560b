package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Package names written by an old serializer bug.
const brokenPackageName = "[object Object]"

// checkDocument reports whether raw decodes as a document of kind. Backends
// use it to fall back to the backup copy when the primary has the wrong
// shape.
func checkDocument(kind Kind, raw []byte) error {
	if !json.Valid(raw) {
		return errors.New("invalid JSON")
	}
	var err error
	switch kind {
	case KindClaims:
		_, _, err = DecodeClaims(raw, time.Now())
	case KindMarks:
		_, _, err = DecodeMarks(raw)
	}
	return err
}

// DecodeClaims parses a claims document. Legacy shapes are upgraded:
// string packages become {name, lastActive: now}, broken names are
// dropped, and a package listed by several users stays with the first.
// upgraded reports whether the result differs from raw and should be
// written back.
func DecodeClaims(raw []byte, now time.Time) (claims []Claim, upgraded bool, err error) {
	if len(raw) == 0 {
		return []Claim{}, false, nil
	}
	var docs []struct {
		UserID   int64             `json:"userid"`
		Username *string           `json:"username"`
		Packages []json.RawMessage `json:"packages"`
	}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, false, fmt.Errorf("decode claims: %w", err)
	}

	owned := map[string]bool{}
	claims = make([]Claim, 0, len(docs))
	for _, d := range docs {
		c := Claim{UserID: d.UserID, Packages: []PackageRef{}}
		if d.Username != nil {
			c.DisplayName = *d.Username
		}
		for _, p := range d.Packages {
			ref, legacy, ok := decodePackageRef(p, now)
			if legacy {
				upgraded = true
			}
			if !ok || ref.Name == "" || ref.Name == brokenPackageName || owned[ref.Name] {
				upgraded = true
				continue
			}
			owned[ref.Name] = true
			c.Packages = append(c.Packages, ref)
		}
		claims = append(claims, c)
	}
	return claims, upgraded, nil
}

func decodePackageRef(raw json.RawMessage, now time.Time) (ref PackageRef, legacy, ok bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return PackageRef{Name: name, LastActive: now.UnixMilli()}, true, true
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return PackageRef{}, true, false
	}
	if ref.LastActive == 0 {
		ref.LastActive = now.UnixMilli()
		legacy = true
	}
	return ref, legacy, true
}

// DecodeMarks parses a marks document. Legacy shapes are upgraded: string
// marks become {name, by: null, comment: ""}, a missing or non-string
// comment becomes "", duplicate mark names collapse (last wins), marks and
// packages are sorted by name and empty packages are pruned.
func DecodeMarks(raw []byte) (marks []PackageMarks, upgraded bool, err error) {
	if len(raw) == 0 {
		return []PackageMarks{}, false, nil
	}
	var docs []struct {
		Name  string            `json:"name"`
		Marks []json.RawMessage `json:"marks"`
	}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, false, fmt.Errorf("decode marks: %w", err)
	}

	byPkg := map[string]map[string]MarkRecord{}
	var order []string
	var prevPkg string
	for i, d := range docs {
		if i > 0 && d.Name <= prevPkg {
			upgraded = true // unsorted or duplicated package
		}
		prevPkg = d.Name
		set, ok := byPkg[d.Name]
		if !ok {
			set = map[string]MarkRecord{}
			byPkg[d.Name] = set
			order = append(order, d.Name)
		}
		var prevMark string
		for j, m := range d.Marks {
			rec, legacy, ok := decodeMarkRecord(m)
			if legacy {
				upgraded = true
			}
			if !ok || rec.Name == "" {
				upgraded = true
				continue
			}
			if j > 0 && rec.Name <= prevMark {
				upgraded = true
			}
			prevMark = rec.Name
			set[rec.Name] = rec
		}
	}

	sort.Strings(order)
	marks = make([]PackageMarks, 0, len(order))
	for _, name := range order {
		set := byPkg[name]
		if len(set) == 0 || strings.TrimSpace(name) == "" {
			upgraded = true
			continue
		}
		pm := PackageMarks{Package: name, Marks: make([]MarkRecord, 0, len(set))}
		for _, rec := range set {
			pm.Marks = append(pm.Marks, rec)
		}
		sort.Slice(pm.Marks, func(i, j int) bool { return pm.Marks[i].Name < pm.Marks[j].Name })
		marks = append(marks, pm)
	}
	return marks, upgraded, nil
}

func decodeMarkRecord(raw json.RawMessage) (rec MarkRecord, legacy, ok bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return MarkRecord{Name: name}, true, true
	}
	var obj struct {
		Name    string          `json:"name"`
		By      json.RawMessage `json:"by"`
		Comment json.RawMessage `json:"comment"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return MarkRecord{}, true, false
	}
	rec.Name = obj.Name
	if err := json.Unmarshal(obj.Comment, &rec.Comment); err != nil {
		rec.Comment = ""
		legacy = true
	}
	if len(obj.By) > 0 && string(obj.By) != "null" {
		var by Setter
		if err := json.Unmarshal(obj.By, &by); err != nil {
			legacy = true
		} else {
			rec.By = &by
		}
	}
	return rec, legacy, true
}

// EncodeClaims renders claims the way they are stored on disk.
func EncodeClaims(claims []Claim) ([]byte, error) {
	out := make([]Claim, len(claims))
	for i, c := range claims {
		if c.Packages == nil {
			c.Packages = []PackageRef{}
		}
		out[i] = c
	}
	return json.MarshalIndent(out, "", "  ")
}

// EncodeMarks renders marks the way they are stored on disk.
func EncodeMarks(marks []PackageMarks) ([]byte, error) {
	if marks == nil {
		marks = []PackageMarks{}
	}
	return json.MarshalIndent(marks, "", "  ")
}
