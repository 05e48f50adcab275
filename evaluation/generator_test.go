package evaluation

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragctl/ragctl/domain"
	"github.com/ragctl/ragctl/index"
)

type fakeKnowledge struct{ kb *domain.Knowledge }

func (f *fakeKnowledge) Create(ctx context.Context, k *domain.Knowledge) error { return nil }
func (f *fakeKnowledge) Get(ctx context.Context, id string) (*domain.Knowledge, error) {
	return f.kb, nil
}
func (f *fakeKnowledge) List(ctx context.Context, userID string) ([]*domain.Knowledge, error) {
	return nil, nil
}
func (f *fakeKnowledge) Update(ctx context.Context, k *domain.Knowledge) error { return nil }
func (f *fakeKnowledge) SetStatus(ctx context.Context, id string, status domain.KBStatus) error {
	return nil
}
func (f *fakeKnowledge) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeKnowledge) ListByStatus(ctx context.Context, status domain.KBStatus) ([]*domain.Knowledge, error) {
	return nil, nil
}

type fakeTestSets struct {
	set      *domain.TestSet
	statuses []domain.TestSetStatus
}

func (f *fakeTestSets) Create(ctx context.Context, t *domain.TestSet) error { return nil }
func (f *fakeTestSets) Get(ctx context.Context, id string) (*domain.TestSet, error) {
	return f.set, nil
}
func (f *fakeTestSets) List(ctx context.Context) ([]*domain.TestSet, error) { return nil, nil }
func (f *fakeTestSets) SetStatus(ctx context.Context, id string, status domain.TestSetStatus, errMsg string) error {
	f.statuses = append(f.statuses, status)
	return nil
}
func (f *fakeTestSets) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeTestSets) ListByStatus(ctx context.Context, status domain.TestSetStatus) ([]*domain.TestSet, error) {
	return nil, nil
}

type fakeLexical struct{ entries []index.Entry }

func (f *fakeLexical) EnsureIndex(ctx context.Context, name string, dim int) error { return nil }
func (f *fakeLexical) DropIndex(ctx context.Context, name string) error           { return nil }
func (f *fakeLexical) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	return nil, nil
}
func (f *fakeLexical) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	return nil
}
func (f *fakeLexical) BM25(ctx context.Context, name, queryText string, k int, filter index.Filter) ([]index.Hit, error) {
	return nil, nil
}
func (f *fakeLexical) ListByFilter(ctx context.Context, name string, filter index.Filter) ([]index.Entry, error) {
	return f.entries, nil
}

type fakeBlobs struct {
	puts map[string][]byte
	get  []byte
}

func (f *fakeBlobs) Put(ctx context.Context, path string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[path] = data
	return nil
}
func (f *fakeBlobs) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.get)), nil
}
func (f *fakeBlobs) Delete(ctx context.Context, path string) error { return nil }
func (f *fakeBlobs) Exists(ctx context.Context, path string) (bool, error) { return true, nil }

func TestGenerator_GenerateTestSet_WritesCSV(t *testing.T) {
	knowledge := &fakeKnowledge{kb: &domain.Knowledge{ID: "kb1"}}
	testsets := &fakeTestSets{set: &domain.TestSet{ID: "ts1"}}
	lexical := &fakeLexical{entries: []index.Entry{{ID: "e1", Text: "Paris is the capital of France."}}}
	blobs := &fakeBlobs{}
	provider := &fakeProvider{text: `{"question": "What is the capital of France?", "ground_truth": "Paris", "reference_contexts": ["Paris is the capital of France."]}`}

	gen := NewGenerator(knowledge, testsets, lexical, blobs, provider, "gpt-test")
	err := gen.GenerateTestSet(context.Background(), "ts1", "kb1", []string{"doc1"})
	require.NoError(t, err)

	assert.Equal(t, []domain.TestSetStatus{domain.TestSetStatusGenerating, domain.TestSetStatusCompleted}, testsets.statuses)

	csvBytes, ok := blobs.puts["testsets/ts1.csv"]
	require.True(t, ok)

	rows, err := ReadCSV(csvBytes)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "What is the capital of France?", rows[0].Question)
	assert.Equal(t, "Paris", rows[0].GroundTruth)
}

func TestGenerator_GenerateTestSet_FailsWhenNoChunks(t *testing.T) {
	knowledge := &fakeKnowledge{kb: &domain.Knowledge{ID: "kb1"}}
	testsets := &fakeTestSets{set: &domain.TestSet{ID: "ts1"}}
	lexical := &fakeLexical{}
	blobs := &fakeBlobs{}
	provider := &fakeProvider{text: "{}"}

	gen := NewGenerator(knowledge, testsets, lexical, blobs, provider, "gpt-test")
	err := gen.GenerateTestSet(context.Background(), "ts1", "kb1", []string{"doc1"})
	require.Error(t, err)
	assert.Contains(t, testsets.statuses, domain.TestSetStatusFailed)
}

func TestReadCSV_RoundTripsReferenceContexts(t *testing.T) {
	rows := []TestRow{
		{Question: "q1", GroundTruth: "gt1", ReferenceContexts: []string{"ctx-a", "ctx-b"}},
	}
	knowledge := &fakeKnowledge{kb: &domain.Knowledge{ID: "kb1"}}
	testsets := &fakeTestSets{set: &domain.TestSet{ID: "ts1"}}
	blobs := &fakeBlobs{}
	gen := NewGenerator(knowledge, testsets, &fakeLexical{}, blobs, &fakeProvider{}, "gpt-test")
	require.NoError(t, gen.writeCSV(context.Background(), "ignored", rows))

	got, err := ReadCSV(blobs.puts["ignored"])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"ctx-a", "ctx-b"}, got[0].ReferenceContexts)
}
