// Package manifest builds and verifies the tamper-evidence record that
// accompanies every evidence pack.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// HashAlgo names the digest used for every file entry.
const HashAlgo = "SHA-256"

// FileName is the name the manifest itself is stored under.
const FileName = "manifest.json"

// Manifest lists every file of a pack with its size and digest.
type Manifest struct {
	CreatedUTC time.Time `json:"created_utc"`
	HashAlgo   string    `json:"hash_algo"`
	RulesetID  string    `json:"ruleset_id"`
	BuildID    string    `json:"build_id"`
	Files      []File    `json:"files"`
}

// File is one manifest entry.
type File struct {
	Name   string `json:"name"`
	Bytes  int    `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Mismatch describes one file that failed verification.
type Mismatch struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Build hashes files into a manifest. Entries are sorted by name so the
// encoding is stable for identical input.
func Build(files map[string][]byte, rulesetID, buildID string, created time.Time) *Manifest {
	m := &Manifest{
		CreatedUTC: created.UTC(),
		HashAlgo:   HashAlgo,
		RulesetID:  rulesetID,
		BuildID:    buildID,
		Files:      make([]File, 0, len(files)),
	}
	for name, data := range files {
		m.Files = append(m.Files, File{Name: name, Bytes: len(data), SHA256: Sum(data)})
	}
	slices.SortFunc(m.Files, func(a, b File) int { return strings.Compare(a.Name, b.Name) })
	return m
}

// Sum returns the lowercase hex SHA-256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes every digest in m against files. Files present in the
// pack but absent from the manifest are reported too, except the manifest itself.
func Verify(m *Manifest, files map[string][]byte) []Mismatch {
	var out []Mismatch
	listed := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		listed[f.Name] = true
		data, ok := files[f.Name]
		switch {
		case !ok:
			out = append(out, Mismatch{Name: f.Name, Reason: "missing"})
		case len(data) != f.Bytes:
			out = append(out, Mismatch{Name: f.Name, Reason: fmt.Sprintf("size %d, manifest says %d", len(data), f.Bytes)})
		case Sum(data) != f.SHA256:
			out = append(out, Mismatch{Name: f.Name, Reason: "digest mismatch"})
		}
	}

	var extra []string
	for name := range files {
		if !listed[name] && name != FileName {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		out = append(out, Mismatch{Name: name, Reason: "not in manifest"})
	}
	return out
}

// Marshal encodes m as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Parse decodes a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.HashAlgo != HashAlgo {
		return nil, fmt.Errorf("unsupported hash algorithm %q", m.HashAlgo)
	}
	return &m, nil
}
