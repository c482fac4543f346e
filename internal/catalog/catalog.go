// Copyright (c) 2026 Bambinounos
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package catalog provides versioned, immutable snapshots of the product
// catalog and the matcher that resolves extracted product mentions against
// them. A snapshot is never mutated after load; refresh swaps the whole
// snapshot pointer, so every job reads one consistent catalog version.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is a single catalog product.
type Entry struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Price    float64  `yaml:"price"`
	Category string   `yaml:"category"`
}

// Snapshot is an immutable, versioned view of the catalog.
type Snapshot struct {
	Version string
	Entries []Entry

	byName  map[string]int // case-folded canonical name -> entry index
	byAlias map[string]int // case-folded alias -> entry index
}

// catalogFile mirrors the YAML structure.
type catalogFile struct {
	Version  string  `yaml:"version"`
	Products []Entry `yaml:"products"`
}

// Load reads a catalog snapshot from a YAML file. The version token is the
// file's explicit version field, or a content hash when absent, so the
// same bytes always produce the same version.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a snapshot from raw YAML bytes.
func Parse(data []byte) (*Snapshot, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog YAML: %w", err)
	}

	version := file.Version
	if version == "" {
		sum := sha256.Sum256(data)
		version = hex.EncodeToString(sum[:])[:12]
	}

	snap := &Snapshot{
		Version: version,
		Entries: file.Products,
		byName:  make(map[string]int, len(file.Products)),
		byAlias: make(map[string]int),
	}

	for i, e := range file.Products {
		if e.ID == "" || e.Name == "" {
			return nil, fmt.Errorf("catalog entry %d missing id or name", i)
		}
		snap.byName[fold(e.Name)] = i
		for _, alias := range e.Aliases {
			snap.byAlias[fold(alias)] = i
		}
	}

	return snap, nil
}

// ByName returns the entry whose canonical name matches, case-folded.
func (s *Snapshot) ByName(name string) (Entry, bool) {
	if i, ok := s.byName[fold(name)]; ok {
		return s.Entries[i], true
	}
	return Entry{}, false
}

// ByAlias returns the entry carrying the given alias, case-folded.
func (s *Snapshot) ByAlias(alias string) (Entry, bool) {
	if i, ok := s.byAlias[fold(alias)]; ok {
		return s.Entries[i], true
	}
	return Entry{}, false
}

// Vocabulary returns every canonical name and alias, case-folded. Used by
// the rule-based extractor to spot product mentions.
func (s *Snapshot) Vocabulary() []string {
	out := make([]string, 0, len(s.byName)+len(s.byAlias))
	for name := range s.byName {
		out = append(out, name)
	}
	for alias := range s.byAlias {
		out = append(out, alias)
	}
	return out
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
