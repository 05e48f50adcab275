package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/index"
)

func entry(id string) index.Entry {
	return index.Entry{ID: id, Text: "text-" + id, Metadata: map[string]interface{}{"id": id}}
}

func TestFuse_PrefersEntryInBothLists(t *testing.T) {
	dense := []index.Hit{{Entry: entry("a"), Score: 0.9}, {Entry: entry("b"), Score: 0.8}}
	lexical := []index.Hit{{Entry: entry("b"), Score: 10}, {Entry: entry("c"), Score: 9}}

	fused := Fuse(dense, lexical, DefaultFuseWeights())
	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].key, "entry ranked in both lists should win by summed RRF score")
	assert.True(t, fused[0].inBothLists)
}

func TestFuse_TieBrokenByMinRank(t *testing.T) {
	// x and y tie on fused score and on minimum rank (0), so the stable key
	// settles the order after the min-rank comparison.
	dense := []index.Hit{{Entry: entry("x"), Score: 1}}
	lexical := []index.Hit{{Entry: entry("y"), Score: 1}}

	fused := Fuse(dense, lexical, DefaultFuseWeights())
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].key)
}

func TestStableKey_PriorityOrder(t *testing.T) {
	withID := index.Entry{Metadata: map[string]interface{}{"id": "explicit-id"}, Text: "ignored"}
	assert.Equal(t, "explicit-id", stableKey(withID))

	withDocChunk := index.Entry{Metadata: map[string]interface{}{"doc_id": "doc1", "chunk_index": 3}, Text: "ignored"}
	assert.Equal(t, "doc1:3", stableKey(withDocChunk))

	bare := index.Entry{Text: "same content"}
	other := index.Entry{Text: "same content"}
	assert.Equal(t, stableKey(bare), stableKey(other), "identical text must hash to the same key")
	assert.NotEqual(t, stableKey(bare), stableKey(index.Entry{Text: "different content"}))
}

func TestFuse_ZeroWeightEliminatesStream(t *testing.T) {
	dense := []index.Hit{{Entry: entry("a"), Score: 0.9}}
	lexical := []index.Hit{{Entry: entry("b"), Score: 9}}

	fused := Fuse(dense, lexical, FuseWeights{Dense: 1, Lexical: 0})
	for _, fr := range fused {
		if fr.key == "b" {
			assert.Zero(t, fr.rrfScore)
		}
	}
}
