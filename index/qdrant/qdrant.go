// Package qdrant implements index.Dense against a Qdrant collection, one
// collection per knowledge base (named kb_{id}).
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/ragctl/ragctl/index"
)

// Store implements index.Dense.
type Store struct {
	client *qc.Client
}

func NewStore(client *qc.Client) *Store {
	return &Store{client: client}
}

func NewClient(host string, port int) (*qc.Client, error) {
	client, err := qc.NewClient(&qc.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

func (s *Store) EnsureIndex(ctx context.Context, name string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: name,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(dim),
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) DropIndex(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

func toPayload(metadata map[string]interface{}) (map[string]*qc.Value, error) {
	payload, err := qc.TryValueMap(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to convert metadata to payload: %w", err)
	}
	return payload, nil
}

func (s *Store) BulkUpsert(ctx context.Context, name string, entries []index.Entry) ([]string, error) {
	ids := make([]string, len(entries))
	points := make([]*qc.PointStruct, 0, len(entries))

	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id

		payload, err := toPayload(e.Metadata)
		if err != nil {
			return nil, err
		}

		points = append(points, &qc.PointStruct{
			Id:      qc.NewID(id),
			Vectors: qc.NewVectors(e.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: name,
		Points:         points,
		Wait:           qc.PtrOf(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %d points into %s: %w", len(points), name, err)
	}
	return ids, nil
}

func buildFilter(filter index.Filter) *qc.Filter {
	var must []*qc.Condition
	if filter.KnowledgeID != "" {
		must = append(must, qc.NewMatch("knowledge_id", filter.KnowledgeID))
	}
	if filter.DocID != "" {
		must = append(must, qc.NewMatch("doc_id", filter.DocID))
	}
	if len(must) == 0 {
		return nil
	}
	return &qc.Filter{Must: must}
}

func (s *Store) DeleteByFilter(ctx context.Context, name string, filter index.Filter) error {
	f := buildFilter(filter)
	if f == nil {
		return fmt.Errorf("delete_by_filter requires at least one of doc_id/knowledge_id")
	}
	_, err := s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: name,
		Points:         qc.NewPointsSelectorFilter(f),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points from %s: %w", name, err)
	}
	return nil
}

func convertValue(v *qc.Value) interface{} {
	if v == nil {
		return nil
	}
	switch k := v.Kind.(type) {
	case *qc.Value_DoubleValue:
		return k.DoubleValue
	case *qc.Value_IntegerValue:
		return k.IntegerValue
	case *qc.Value_StringValue:
		return k.StringValue
	case *qc.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}

func payloadToMetadata(payload map[string]*qc.Value) map[string]interface{} {
	meta := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		meta[k] = convertValue(v)
	}
	return meta
}

func (s *Store) KNN(ctx context.Context, name string, vector []float32, k int, filter index.Filter) ([]index.Hit, error) {
	query := &qc.QueryPoints{
		CollectionName: name,
		Query:          qc.NewQuery(vector...),
		Limit:          qc.PtrOf(uint64(k)),
		WithPayload:    qc.NewWithPayload(true),
		Filter:         buildFilter(filter),
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}

	hits := make([]index.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, index.Hit{
			Entry: index.Entry{
				ID:       p.GetId().GetUuid(),
				Metadata: payloadToMetadata(p.GetPayload()),
			},
			Score: float64(p.GetScore()),
		})
	}
	return hits, nil
}
