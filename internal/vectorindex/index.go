package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/errors"
)

// pointNamespace keys deterministic point ids so re-indexing a SKU overwrites
// its previous point instead of duplicating it.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Hit is one scored product match from the index.
type Hit struct {
	SKU      string
	Name     string
	Brand    string
	Category string
	Score    float32
}

// Point is an indexable product document.
type Point struct {
	SKU      string
	Name     string
	Brand    string
	Category string
	Text     string
	Vector   []float32
}

// Index wraps the vector collection holding product embeddings.
type Index interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]Hit, error)
	Ping(ctx context.Context) error
	Close() error
}

type index struct {
	client     *qdrant.Client
	collection string
	vectorDim  uint64
}

// New connects to the vector store configured in cfg.
func New(cfg config.QdrantConfig) (Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to vector store: %w", err)
	}
	return &index{
		client:     client,
		collection: cfg.Collection,
		vectorDim:  cfg.VectorDim,
	}, nil
}

func (i *index) EnsureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "checking vector collection")
	}
	if exists {
		return nil
	}
	err = i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     i.vectorDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "creating vector collection")
	}
	return nil
}

func (i *index) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if p.SKU == "" {
			return errors.New(errors.CodeValidation, "point sku required")
		}
		if uint64(len(p.Vector)) != i.vectorDim {
			return errors.New(errors.CodeValidation, "point vector dimension mismatch").
				WithDetails(map[string]any{"sku": p.SKU, "got": len(p.Vector), "want": i.vectorDim})
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.SKU)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"sku":      p.SKU,
				"name":     p.Name,
				"brand":    p.Brand,
				"category": p.Category,
				"text":     p.Text,
			}),
		})
	}
	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "upserting vector points")
	}
	return nil
}

func (i *index) Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	query := &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(threshold)
	}
	scored, err := i.client.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "querying vector index")
	}
	hits := make([]Hit, 0, len(scored))
	for _, point := range scored {
		hit := Hit{Score: point.GetScore()}
		payload := point.GetPayload()
		if payload != nil {
			hit.SKU = payload["sku"].GetStringValue()
			hit.Name = payload["name"].GetStringValue()
			hit.Brand = payload["brand"].GetStringValue()
			hit.Category = payload["category"].GetStringValue()
		}
		if hit.SKU == "" {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (i *index) Ping(ctx context.Context) error {
	if _, err := i.client.HealthCheck(ctx); err != nil {
		return errors.Wrap(errors.CodeDependency, err, "vector store unreachable")
	}
	return nil
}

func (i *index) Close() error {
	return i.client.Close()
}

// PointID derives the stable UUID for a SKU's point.
func PointID(sku string) string {
	return uuid.NewSHA1(pointNamespace, []byte(sku)).String()
}
