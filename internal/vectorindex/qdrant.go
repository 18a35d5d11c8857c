package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/medquery-go/internal/rag"
)

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// Metric is the collection distance. Empty means Cosine.
	Metric Metric

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Qdrant implements rag.VectorIndex on a Qdrant collection. The collection
// is the persistent form of the index: it survives restarts, and its
// presence tells startup whether to ingest.
type Qdrant struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig

	// created is true when OpenQdrant had to create the collection.
	created bool
}

// OpenQdrant connects to Qdrant and opens the configured collection,
// creating it when absent. An existing collection whose vector size or
// distance differs from cfg fails with rag.ErrIndexLoad.
func OpenQdrant(ctx context.Context, cfg *QdrantConfig) (*Qdrant, error) {
	if _, err := qdrantDistance(cfg.Metric); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "medquery-corpus"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &Qdrant{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return idx, nil
}

// qdrantDistance maps a Metric onto the Qdrant distance with the same
// scoring.
func qdrantDistance(m Metric) (qdrant.Distance, error) {
	switch m {
	case "", Cosine:
		return qdrant.Distance_Cosine, nil
	case Dot:
		return qdrant.Distance_Dot, nil
	default:
		return qdrant.Distance_UnknownDistance, fmt.Errorf("qdrant: unsupported metric %q", m)
	}
}

// ensureCollection creates the collection if it does not already exist and
// verifies the vector size and distance of one that does.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	distance, err := qdrantDistance(q.cfg.Metric)
	if err != nil {
		return err
	}

	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}

	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant: failed to read collection %q: %w: %w", q.cfg.Collection, rag.ErrIndexLoad, err)
		}
		params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
		if size := params.GetSize(); size != q.cfg.VectorSize {
			return fmt.Errorf("qdrant: collection %q has vector size %d, embedder produces %d: %w",
				q.cfg.Collection, size, q.cfg.VectorSize, rag.ErrIndexLoad)
		}
		if d := params.GetDistance(); d != distance {
			return fmt.Errorf("qdrant: collection %q uses %s distance, INDEX_METRIC asks for %s: %w",
				q.cfg.Collection, d, distance, rag.ErrIndexLoad)
		}
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w: %w", q.cfg.Collection, rag.ErrIndexBuild, err)
	}
	q.created = true

	return nil
}

// Created reports whether the collection was created by this process and
// therefore still needs to be populated.
func (q *Qdrant) Created() bool { return q.created }

// Dimension is the collection vector size.
func (q *Qdrant) Dimension() int { return int(q.cfg.VectorSize) }

// Add upserts a batch of documents with their embeddings. Point IDs are
// derived from the document IDs, so re-adding the same chunk is idempotent.
func (q *Qdrant) Add(ctx context.Context, docs []rag.Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d vectors: %w", len(docs), len(embeddings), rag.ErrIndexBuild)
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		if uint64(len(embeddings[i])) != q.cfg.VectorSize {
			return fmt.Errorf("qdrant: vector %d has dimension %d, collection expects %d: %w",
				i, len(embeddings[i]), q.cfg.VectorSize, rag.ErrIndexBuild)
		}

		payload := map[string]any{
			"doc_id":  doc.ID,
			"content": doc.Content,
			"source":  doc.Source,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(doc.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w: %w", rag.ErrIndexBuild, err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (q *Qdrant) Search(ctx context.Context, query []float32, k int) ([]rag.Document, error) {
	if uint64(len(query)) != q.cfg.VectorSize {
		return nil, fmt.Errorf("qdrant: query has dimension %d, collection expects %d: %w", len(query), q.cfg.VectorSize, rag.ErrRetrieval)
	}
	if k <= 0 {
		return []rag.Document{}, nil
	}

	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w: %w", rag.ErrRetrieval, err)
	}

	docs := make([]rag.Document, 0, len(results))
	for _, r := range results {
		doc := rag.Document{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: make(map[string]string),
		}
		for key, v := range r.GetPayload() {
			switch key {
			case "doc_id":
				doc.ID = v.GetStringValue()
			case "content":
				doc.Content = v.GetStringValue()
			case "source":
				doc.Source = v.GetStringValue()
			default:
				doc.Metadata[key] = v.GetStringValue()
			}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Len counts the points in the collection.
func (q *Qdrant) Len(ctx context.Context) (int, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Ping checks that the Qdrant server is reachable.
func (q *Qdrant) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

// pointNamespace scopes the UUIDs derived from document IDs.
var pointNamespace = uuid.MustParse("6f1c7f8e-3a0b-4d52-9a57-2a3f4b7c9d10")

// pointID maps an arbitrary document ID to the UUID form Qdrant requires.
func pointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}
