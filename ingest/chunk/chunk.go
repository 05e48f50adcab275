// Package chunk splits parsed document tuples into length-bounded
// chunks, each carrying its source heading path as a text prefix, and
// emits a small-to-big parent/child pair per chunk so the hybrid
// retriever can collapse a matched child chunk back to its larger
// parent context.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/ragctl/ragctl/ingest/parser"
)

// abbreviationBoundary matches a sentence-ending period NOT preceded by a
// common abbreviation (Mr., Dr., e.g., etc.), so bestSplitPoint doesn't
// fracture a chunk mid-abbreviation. regexp2 gives us the lookbehind .NET
// regex syntax doesn't have a stdlib equivalent for.
var abbreviationBoundary = regexp2.MustCompile(`(?<!\b(?:[A-Z]|Mr|Mrs|Ms|Dr|Prof|Sr|Jr|vs|etc|e\.g|i\.e))\.\s`, regexp2.None)

// isAbbreviatedPeriod reports whether the '.' at index i in text looks like
// part of an abbreviation rather than a sentence boundary.
func isAbbreviatedPeriod(text string, i int) bool {
	end := i + 1
	if end < len(text) && text[end] == ' ' {
		end++
	}
	start := i
	if start > 40 {
		start = i - 40
	} else {
		start = 0
	}
	window := text[start:end]
	m, err := abbreviationBoundary.FindStringMatch(window)
	for err == nil && m != nil {
		if m.Index+m.Length == len([]rune(window)) {
			return false
		}
		m, err = abbreviationBoundary.FindNextMatch(m)
	}
	return true
}

// Chunk is one unit ready for embedding and indexing.
type Chunk struct {
	Text          string
	HeadingPath   string
	Page          int
	ParentID      string
	ParentContent string
}

// parentMultiplier sets how much larger a parent window is than a child
// chunk; parents exist purely to give the retriever richer context to
// collapse into, not to be embedded themselves.
const parentMultiplier = 4

// Split turns parsed tuples into chunks using a length-bounded recursive
// splitter: each tuple is prefixed with its heading path and split on its
// own (chunks never span two tuples) at paragraph/sentence/word boundaries
// (in that preference order) to respect chunkSize with chunkOverlap
// carried between consecutive chunks.
func Split(tuples []parser.Tuple, chunkSize, chunkOverlap int) []Chunk {
	var chunks []Chunk

	for _, t := range tuples {
		prefixed := t.Text
		if t.HeadingPath != "" {
			prefixed = t.HeadingPath + "\n" + t.Text
		}

		windows := recursiveSplit(prefixed, chunkSize, chunkOverlap)
		parentWindows := recursiveSplit(prefixed, chunkSize*parentMultiplier, chunkOverlap)

		for _, w := range windows {
			parentContent, parentID := findParent(w, parentWindows)
			chunks = append(chunks, Chunk{
				Text:          w,
				HeadingPath:   t.HeadingPath,
				Page:          t.Page,
				ParentID:      parentID,
				ParentContent: parentContent,
			})
		}
	}

	return chunks
}

func findParent(child string, parents []string) (content, id string) {
	for _, p := range parents {
		if strings.Contains(p, child) {
			return p, contentHash(p)
		}
	}
	if len(parents) > 0 {
		return parents[0], contentHash(parents[0])
	}
	return child, contentHash(child)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// recursiveSplit breaks text into windows of at most size runes, trying
// paragraph boundaries first, then sentence boundaries, then raw word
// boundaries, carrying overlap runes of context into the next window.
func recursiveSplit(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	if overlap >= size {
		overlap = size / 2
	}

	var windows []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			windows = append(windows, string(runes[start:]))
			break
		}

		splitAt := bestSplitPoint(runes, start, end)
		windows = append(windows, string(runes[start:splitAt]))

		next := splitAt - overlap
		if next <= start {
			next = splitAt
		}
		start = next
	}
	return windows
}

// bestSplitPoint looks backward from end for a paragraph break, then a
// sentence break, then a space, falling back to a hard cut at end.
func bestSplitPoint(runes []rune, start, end int) int {
	if p := lastIndexWithin(runes, start, end, "\n\n"); p > start {
		return p
	}
	if p := lastSentenceBoundary(runes, start, end); p > start {
		return p + 1
	}
	if p := lastRuneIndexWithin(runes, start, end, ' '); p > start {
		return p
	}
	return end
}

// lastSentenceBoundary scans backward from end for a '.' or '\n' that isn't
// part of an abbreviation, per isAbbreviatedPeriod.
func lastSentenceBoundary(runes []rune, start, end int) int {
	text := string(runes)
	for i := end - 1; i > start; i-- {
		switch runes[i] {
		case '\n':
			return i
		case '.':
			if !isAbbreviatedPeriod(text, len(string(runes[:i]))) {
				return i
			}
		}
	}
	return -1
}

func lastIndexWithin(runes []rune, start, end int, sep string) int {
	window := string(runes[start:end])
	idx := strings.LastIndex(window, sep)
	if idx < 0 {
		return -1
	}
	return start + len([]rune(window[:idx])) + len([]rune(sep))
}

func lastRuneIndexWithin(runes []rune, start, end int, candidates ...rune) int {
	for i := end - 1; i > start; i-- {
		for _, c := range candidates {
			if runes[i] == c {
				return i
			}
		}
	}
	return -1
}
