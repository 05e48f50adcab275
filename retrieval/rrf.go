package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/ragctl/ragctl/index"
)

// rrfK is the rank-damping constant from the Reciprocal Rank Fusion formula.
const rrfK = 60

// fusedResult accumulates a chunk's score across the dense and lexical
// result lists before sorting, mirroring a two-source fusion record: each
// stream contributes rank-space score plus its own raw score for
// diagnostics, and inBothLists flags chunks that round-tripped through
// both retrieval passes.
type fusedResult struct {
	key         string
	entry       index.Entry
	rrfScore    float64
	denseScore  float64
	lexScore    float64
	denseRank   int
	lexRank     int
	inBothLists bool
}

// stableKey derives the identifier RRF fuses on: metadata.id if present,
// else doc_id+":"+chunk_index, else a content hash. This ordering is a
// deliberate policy choice (documented in DESIGN.md) for the otherwise
// unspecified non-UUID id collision case.
func stableKey(e index.Entry) string {
	if id, ok := e.Metadata["id"].(string); ok && id != "" {
		return id
	}
	docID, _ := e.Metadata["doc_id"].(string)
	chunkIndex := e.Metadata["chunk_index"]
	if docID != "" && chunkIndex != nil {
		return fmt.Sprintf("%s:%v", docID, chunkIndex)
	}
	sum := sha256.Sum256([]byte(e.Text))
	return hex.EncodeToString(sum[:16])
}

// FuseWeights weights each source's RRF contribution. A weight of 0
// eliminates that stream entirely.
type FuseWeights struct {
	Dense   float64
	Lexical float64
}

func DefaultFuseWeights() FuseWeights {
	return FuseWeights{Dense: 1, Lexical: 1}
}

// Fuse combines dense and lexical hit lists via Reciprocal Rank Fusion:
// for each entry at 0-based rank r in a list with weight w, contribute
// w / (k + r + 1), summed across lists by stable key. Ties are broken by
// the minimum rank seen across both lists, then by stable key.
func Fuse(dense, lexical []index.Hit, weights FuseWeights) []fusedResult {
	byKey := make(map[string]*fusedResult)

	for rank, hit := range dense {
		key := stableKey(hit.Entry)
		fr, ok := byKey[key]
		if !ok {
			fr = &fusedResult{key: key, entry: hit.Entry, denseRank: -1, lexRank: -1}
			byKey[key] = fr
		}
		fr.rrfScore += weights.Dense / float64(rrfK+rank+1)
		fr.denseScore = hit.Score
		fr.denseRank = rank
	}

	for rank, hit := range lexical {
		key := stableKey(hit.Entry)
		fr, ok := byKey[key]
		if !ok {
			fr = &fusedResult{key: key, entry: hit.Entry, denseRank: -1, lexRank: -1}
			byKey[key] = fr
		}
		fr.rrfScore += weights.Lexical / float64(rrfK+rank+1)
		fr.lexScore = hit.Score
		fr.lexRank = rank
	}

	out := make([]fusedResult, 0, len(byKey))
	for _, fr := range byKey {
		fr.inBothLists = fr.denseRank >= 0 && fr.lexRank >= 0
		out = append(out, *fr)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].rrfScore != out[j].rrfScore {
			return out[i].rrfScore > out[j].rrfScore
		}
		if mi, mj := minRank(out[i]), minRank(out[j]); mi != mj {
			return mi < mj
		}
		return out[i].key < out[j].key
	})
	return out
}

func minRank(fr fusedResult) int {
	switch {
	case fr.denseRank < 0:
		return fr.lexRank
	case fr.lexRank < 0:
		return fr.denseRank
	case fr.denseRank < fr.lexRank:
		return fr.denseRank
	default:
		return fr.lexRank
	}
}
