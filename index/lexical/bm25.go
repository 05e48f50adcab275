// Package lexical implements index.Lexical as an in-process, CJK-aware
// BM25 inverted index. No library in the example corpus provides a BM25
// scorer with CJK (character-bigram) tokenization; this package is the
// one deliberate standard-library implementation in the index layer — see
// DESIGN.md for the justification.
package lexical

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/ragctl/ragctl/index"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize splits text into lowercase terms. Latin/Cyrillic/etc runs are
// split on word boundaries; CJK runs are split into character bigrams,
// since those scripts don't use whitespace to separate words.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if isCJK(word) {
			tokens = append(tokens, cjkBigrams(word)...)
		} else {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

func isCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

func cjkBigrams(s string) []string {
	runes := []rune(s)
	if len(runes) == 1 {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

type doc struct {
	entry index.Entry
	terms []string
	freq  map[string]int
}

type collection struct {
	mu       sync.RWMutex
	docs     map[string]*doc
	postings map[string]map[string]int // term -> docID -> freq
	totalLen int
}

func newCollection() *collection {
	return &collection{docs: make(map[string]*doc), postings: make(map[string]map[string]int)}
}

// Store implements index.Lexical with one in-memory inverted index per
// logical index name.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) collection(name string) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = newCollection()
		s.collections[name] = c
	}
	return c
}

func (s *Store) EnsureIndex(ctx context.Context, name string, dim int) error {
	s.collection(name)
	return nil
}

func (s *Store) DropIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Store) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	c := s.collection(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("lexical bulk_upsert: entry %d missing id", i)
		}
		ids[i] = e.ID

		terms := Tokenize(e.Text)
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}

		if existing, ok := c.docs[e.ID]; ok {
			c.totalLen -= len(existing.terms)
			for t := range existing.freq {
				delete(c.postings[t], e.ID)
			}
		}

		c.docs[e.ID] = &doc{entry: e, terms: terms, freq: freq}
		c.totalLen += len(terms)
		for t, f := range freq {
			if c.postings[t] == nil {
				c.postings[t] = make(map[string]int)
			}
			c.postings[t][e.ID] = f
		}
	}
	return ids, nil
}

func (s *Store) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	c := s.collection(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, d := range c.docs {
		if !matches(d.entry, filter) {
			continue
		}
		c.totalLen -= len(d.terms)
		for t := range d.freq {
			delete(c.postings[t], id)
		}
		delete(c.docs, id)
	}
	return nil
}

func matches(e index.Entry, filter index.Filter) bool {
	if filter.KnowledgeID != "" && fmt.Sprint(e.Metadata["knowledge_id"]) != filter.KnowledgeID {
		return false
	}
	if filter.DocID != "" && fmt.Sprint(e.Metadata["doc_id"]) != filter.DocID {
		return false
	}
	return true
}

// BM25 scores query_text against the collection using the standard
// Okapi BM25 formula with k1=1.2, b=0.75.
func (s *Store) BM25(ctx context.Context, name string, queryText string, k int, filter index.Filter) ([]index.Hit, error) {
	c := s.collection(name)
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.docs)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(c.totalLen) / float64(n)

	queryTerms := uniqueTerms(Tokenize(queryText))
	scores := make(map[string]float64)

	for _, term := range queryTerms {
		postings := c.postings[term]
		df := len(postings)
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))

		for docID, freq := range postings {
			d := c.docs[docID]
			if !matches(d.entry, filter) {
				continue
			}
			dl := float64(len(d.terms))
			tf := float64(freq)
			denom := tf + bm25K1*(1-bm25B+bm25B*dl/avgLen)
			scores[docID] += idf * (tf * (bm25K1 + 1) / denom)
		}
	}

	hits := make([]index.Hit, 0, len(scores))
	for docID, score := range scores {
		hits = append(hits, index.Hit{Entry: c.docs[docID].entry, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// ListByFilter returns every entry matching filter, unranked. Used by the
// evaluation test-set generator to fetch a document's chunk text directly
// rather than via a query match.
func (s *Store) ListByFilter(ctx context.Context, name string, filter index.Filter) ([]index.Entry, error) {
	c := s.collection(name)
	c.mu.RLock()
	defer c.mu.RUnlock()

	var entries []index.Entry
	for _, d := range c.docs {
		if matches(d.entry, filter) {
			entries = append(entries, d.entry)
		}
	}
	return entries, nil
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
