// Package report serializes duplicate groups to a schema-versioned JSON
// document, written atomically (temp file, fsync, rename).
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"filmdupe/internal/grouper"
)

// schemaVersion is bumped whenever the on-disk document shape changes.
const schemaVersion = 1

// Member mirrors grouper.Member in the report's JSON shape.
type Member struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Reason string `json:"reason"`
}

// Group is one duplicate group as written to the report.
type Group struct {
	GroupID  string   `json:"group_id"`
	Kind     string   `json:"kind"`
	Winner   Member   `json:"winner"`
	Losers   []Member `json:"losers"`
	Evidence any      `json:"evidence"`
}

// UnmarshalJSON decodes the kind-specific evidence payload into its
// concrete type. Leaving Evidence untyped on read would hand it to the
// encoder as a map, whose alphabetical key order differs from the evidence
// structs' declared field order, breaking the write/read/write
// byte-identity guarantee.
func (g *Group) UnmarshalJSON(data []byte) error {
	type plain Group
	aux := struct {
		*plain
		Evidence json.RawMessage `json:"evidence"`
	}{plain: (*plain)(g)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Evidence) == 0 || string(aux.Evidence) == "null" {
		return nil
	}
	switch g.Kind {
	case string(grouper.KindExact):
		var ev grouper.ExactEvidence
		if err := json.Unmarshal(aux.Evidence, &ev); err != nil {
			return err
		}
		g.Evidence = ev
	case string(grouper.KindVisual):
		var ev grouper.VisualEvidence
		if err := json.Unmarshal(aux.Evidence, &ev); err != nil {
			return err
		}
		g.Evidence = ev
	case string(grouper.KindSubset):
		var ev grouper.SubsetEvidence
		if err := json.Unmarshal(aux.Evidence, &ev); err != nil {
			return err
		}
		g.Evidence = ev
	default:
		g.Evidence = aux.Evidence
	}
	return nil
}

// Summary holds run-level counts and the total space a full cleanup would
// reclaim.
type Summary struct {
	TotalGroups      int     `json:"total_groups"`
	TotalLosers      int     `json:"total_losers"`
	BytesReclaimable int64   `json:"bytes_reclaimable"`
	ScanTimeSec      float64 `json:"scan_time_sec"`
}

// Failure is one per-file error recorded during the run.
type Failure struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Document is the full schema-versioned report.
type Document struct {
	Version     int       `json:"version"`
	Groups      []Group   `json:"groups"`
	Summary     Summary   `json:"summary"`
	Failures    []Failure `json:"failures"`
	Interrupted bool      `json:"interrupted"`
}

// Build assembles a Document from the grouper's output, the accumulated
// per-file failure log, the interrupted flag, and the run's wall-clock
// duration in seconds.
func Build(groups []grouper.Group, failures []Failure, interrupted bool, scanTimeSec float64) Document {
	doc := Document{
		Version:     schemaVersion,
		Groups:      make([]Group, 0, len(groups)),
		Failures:    failures,
		Interrupted: interrupted,
	}

	var totalLosers int
	var bytesReclaimable int64
	for _, g := range groups {
		losers := make([]Member, 0, len(g.Losers))
		for _, l := range g.Losers {
			losers = append(losers, Member{Path: l.Path, Size: l.Size, Reason: l.Reason})
			bytesReclaimable += l.Size
		}
		totalLosers += len(losers)
		doc.Groups = append(doc.Groups, Group{
			GroupID:  g.ID,
			Kind:     string(g.Kind),
			Winner:   Member{Path: g.Winner.Path, Size: g.Winner.Size, Reason: g.Winner.Reason},
			Losers:   losers,
			Evidence: g.Evidence,
		})
	}

	sort.Slice(doc.Failures, func(i, j int) bool { return doc.Failures[i].Path < doc.Failures[j].Path })

	doc.Summary = Summary{
		TotalGroups:      len(doc.Groups),
		TotalLosers:      totalLosers,
		BytesReclaimable: bytesReclaimable,
		ScanTimeSec:      scanTimeSec,
	}
	return doc
}

// Write serializes doc as indented JSON to path, atomically: it writes to a
// temporary sibling file, fsyncs, then renames over the destination, so a
// crash mid-write never leaves a truncated report behind.
func Write(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename report into place: %w", err)
	}
	return nil
}

// Read parses a Document previously written by Write, used by tests to
// verify the round-trip (ReportWriter -> re-parse -> ReportWriter) law.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode report: %w", err)
	}
	return doc, nil
}
