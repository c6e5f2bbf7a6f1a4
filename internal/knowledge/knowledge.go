// Package knowledge implements the Knowledge Store (spec §4.D): an
// append-indexed document store over heterogeneous KnowledgeDocs, sharing
// the Recipe Catalog's retrieval laws but persisted as JSONL with a
// sidecar index and metadata file.
package knowledge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/anna-assistant/annad/internal/recipe"
)

// Source is the closed tag set for where a KnowledgeDoc came from (§4.D).
type Source string

const (
	SourceRecipe   Source = "recipe"
	SourceArchWiki Source = "arch_wiki"
	SourceManPage  Source = "man_page"
)

// Doc is one retrievable document (§4.D).
type Doc struct {
	ID      string `json:"id"`
	Source  Source `json:"source"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Tags    []string `json:"tags"`
}

func (d Doc) tokens() map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range recipe.Tokenize(d.Title + " " + d.Body) {
		set[tok] = struct{}{}
	}
	for _, tag := range d.Tags {
		for _, tok := range recipe.Tokenize(tag) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func score(d Doc, queryTokens []string) int {
	toks := d.tokens()
	hits := 0
	for _, tok := range queryTokens {
		if _, ok := toks[tok]; ok {
			hits++
		}
	}
	return hits
}

// Meta is the small metadata record persisted alongside the doc log (§4.D).
type Meta struct {
	Version  int `json:"version"`
	Seq      int `json:"seq"`
	DocCount int `json:"doc_count"`
}

// Match is one scored Knowledge Store search result.
type Match struct {
	DocID string
	Score int
}

// Store is the in-memory + on-disk Knowledge Store.
type Store struct {
	mu       sync.RWMutex
	dir      string
	docs     map[string]Doc
	order    []string // insertion order, for deterministic replay
	meta     Meta
}

func docsPath(dir string) string { return filepath.Join(dir, "docs.jsonl") }
func indexPath(dir string) string { return filepath.Join(dir, "index.json") }
func metaPath(dir string) string { return filepath.Join(dir, "meta.json") }

// Open replays docs.jsonl to reconstruct in-memory state (§4.D "On load,
// replay the JSONL to reconstruct the in-memory state").
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, docs: make(map[string]Doc)}

	f, err := os.Open(docsPath(dir))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: open %s: %w", docsPath(dir), err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var d Doc
		if err := json.Unmarshal(line, &d); err != nil {
			continue // corrupted line: skip, matching the case store's tolerance (§4.K)
		}
		s.docs[d.ID] = d
		s.order = append(s.order, d.ID)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: scan %s: %w", docsPath(dir), err)
	}

	if data, err := os.ReadFile(metaPath(dir)); err == nil {
		_ = json.Unmarshal(data, &s.meta)
	}
	s.meta.DocCount = len(s.docs)

	return s, nil
}

// Add appends a new document to the JSONL log and atomically replaces the
// sidecar index/meta files.
func (s *Store) Add(d Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("knowledge: mkdir %s: %w", s.dir, err)
	}

	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("knowledge: marshal doc %s: %w", d.ID, err)
	}

	f, err := os.OpenFile(docsPath(s.dir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("knowledge: open append %s: %w", docsPath(s.dir), err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("knowledge: append doc %s: %w", d.ID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("knowledge: fsync %s: %w", docsPath(s.dir), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("knowledge: close %s: %w", docsPath(s.dir), err)
	}

	if _, exists := s.docs[d.ID]; !exists {
		s.order = append(s.order, d.ID)
	}
	s.docs[d.ID] = d
	s.meta.Seq++
	s.meta.DocCount = len(s.docs)

	if err := s.writeAtomic(metaPath(s.dir), s.meta); err != nil {
		return err
	}
	return s.writeAtomic(indexPath(s.dir), s.order)
}

func (s *Store) writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("knowledge: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("knowledge: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("knowledge: rename %s: %w", tmp, err)
	}
	return nil
}

// Search returns docs matching text, optionally filtered to an allow-list
// of sources, sorted by (score desc, doc_id asc) (§4.D).
func (s *Store) Search(text string, limit int, allowSources []Source) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryTokens := recipe.Tokenize(text)
	allow := make(map[Source]struct{}, len(allowSources))
	for _, src := range allowSources {
		allow[src] = struct{}{}
	}

	var matches []Match
	for _, id := range s.order {
		d := s.docs[id]
		if len(allow) > 0 {
			if _, ok := allow[d.Source]; !ok {
				continue
			}
		}
		sc := score(d, queryTokens)
		if sc == 0 {
			continue
		}
		matches = append(matches, Match{DocID: d.ID, Score: sc})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].DocID < matches[j].DocID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Get returns a document by ID.
func (s *Store) Get(id string) (Doc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

// MetaSnapshot returns the current (version, seq, doc_count) metadata.
func (s *Store) MetaSnapshot() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}
