package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	gotModel string
	gotText  string
	vector   []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.gotModel = model
	f.gotText = text
	return f.vector, nil
}

func TestEmbedderAdapter_PassesConfiguredModel(t *testing.T) {
	fe := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	adapter := newEmbedderAdapter(fe, "text-embedding-3-small")

	vec, err := adapter.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, "text-embedding-3-small", fe.gotModel)
	assert.Equal(t, "hello world", fe.gotText)
}
