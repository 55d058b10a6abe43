package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

// Config holds connection and collection parameters for the vector index.
// A zero Timeout leaves calls bounded only by the caller's context.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
	Timeout    time.Duration
}

// Index implements retrieval.VectorIndex over a Qdrant collection. Text and
// image vectors share the collection and are told apart by a modality
// payload field.
type Index struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
	timeout    time.Duration
}

// New connects to Qdrant and returns an index bound to one collection.
func New(cfg Config) (*Index, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &Index{
		client:     client,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		timeout:    cfg.Timeout,
	}, nil
}

// opCtx bounds one gRPC call with the configured timeout.
func (i *Index) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, i.timeout)
}

// Close releases the underlying gRPC connection.
func (i *Index) Close() error {
	return i.client.Close()
}

// Ping checks index connectivity.
func (i *Index) Ping(ctx context.Context) error {
	ctx, cancel := i.opCtx(ctx)
	defer cancel()

	if _, err := i.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w: %w", domain.ErrVectorIndex, err)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance when it does
// not exist yet, then makes sure the modality payload field is indexed.
func (i *Index) EnsureCollection(ctx context.Context) error {
	ctx, cancel := i.opCtx(ctx)
	defer cancel()

	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w: %w", i.collection, domain.ErrVectorIndex, err)
	}
	if !exists {
		err := i.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: i.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     i.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w: %w", i.collection, domain.ErrVectorIndex, err)
		}
	}

	_, err = i.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: i.collection,
		FieldName:      fieldModality,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("index modality field: %w: %w", domain.ErrVectorIndex, err)
	}
	return nil
}

const (
	fieldProductID = "product_id"
	fieldModality  = "modality"
)

// Query runs a similarity search restricted to one modality. Hits below
// scoreThreshold are cut server-side; malformed points are skipped.
func (i *Index) Query(
	ctx context.Context, vector []float32, modality domain.Modality,
	limit int, scoreThreshold float32,
) ([]domain.SearchHit, error) {
	ctx, cancel := i.opCtx(ctx)
	defer cancel()

	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(scoreThreshold),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(fieldModality, modality.String()),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w: %w", i.collection, modality, domain.ErrVectorIndex, err)
	}

	hits := make([]domain.SearchHit, 0, len(points))
	for _, p := range points {
		hit, ok := hitFromPayload(p.GetPayload(), float64(p.GetScore()))
		if !ok {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// VectorRecord is one embedding to index.
type VectorRecord struct {
	ProductID string
	Modality  domain.Modality
	Vector    []float32
}

// Upsert indexes a batch of embeddings. Point ids are fresh UUIDs; identity
// lives in the product_id payload field, so re-ingesting a product adds a
// new point rather than overwriting.
func (i *Index) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := i.opCtx(ctx)
	defer cancel()

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				fieldProductID: r.ProductID,
				fieldModality:  r.Modality.String(),
			}),
		})
	}

	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w: %w", len(points), domain.ErrVectorIndex, err)
	}
	return nil
}

// hitFromPayload builds a search hit from a scored point's payload. Points
// missing the product_id or modality fields are reported as not ok.
func hitFromPayload(payload map[string]*qdrant.Value, score float64) (domain.SearchHit, bool) {
	id := payload[fieldProductID].GetStringValue()
	mod, err := domain.ParseModality(payload[fieldModality].GetStringValue())
	if err != nil || id == "" {
		return domain.SearchHit{}, false
	}

	hit := domain.SearchHit{ProductID: id, Modality: mod, Score: score}
	if err := hit.Validate(); err != nil {
		return domain.SearchHit{}, false
	}
	return hit, true
}
