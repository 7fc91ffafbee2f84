// Package qdrant provides a Qdrant-backed vector driver for deployments where
// the embedding index lives outside the SQLite file.
package qdrant

import (
	"context"
	"fmt"

	qdr "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for entry embeddings.
	DefaultCollectionName = "murmur"
)

// QdrantDriver implements vector.VectorDriver against a Qdrant server.
type QdrantDriver struct {
	client     *qdr.Client
	collection string
	logger     *zap.Logger
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Host is the Qdrant gRPC host.
	Host string

	// Port is the Qdrant gRPC port. Defaults to 6334 if zero.
	Port int

	// CollectionName defaults to DefaultCollectionName if empty.
	CollectionName string

	// Dimensions is the embedding vector size, required to create the
	// collection on first use.
	Dimensions uint64
}

// NewQdrantDriver connects to Qdrant and ensures the collection exists.
func NewQdrantDriver(ctx context.Context, c Config, logger *zap.Logger) (*QdrantDriver, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}

	port := c.Port
	if port == 0 {
		port = 6334
	}
	collection := c.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	client, err := qdr.NewClient(&qdr.Config{
		Host: c.Host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("checking collection %q: %w", collection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdr.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdr.NewVectorsConfig(&qdr.VectorParams{
				Size:     c.Dimensions,
				Distance: qdr.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %q: %w", collection, err)
		}
	}

	logger.Info("connected to Qdrant",
		zap.String("host", c.Host),
		zap.Int("port", port),
		zap.String("collection", collection),
	)

	return &QdrantDriver{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

// Add stores documents with their embeddings. Upserting an existing ID
// replaces the stored point.
func (d *QdrantDriver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdr.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &qdr.PointStruct{
			Id:      qdr.NewID(doc.ID),
			Vectors: qdr.NewVectors(doc.Embedding...),
			Payload: qdr.NewValueMap(map[string]any{
				"user_id": doc.UserID,
				"text":    doc.Text,
			}),
		}
	}

	_, err := d.client.Upsert(ctx, &qdr.UpsertPoints{
		CollectionName: d.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("added documents to qdrant",
		zap.Int("count", len(docs)),
	)

	return nil
}

// Query finds the topK most similar documents belonging to userID.
func (d *QdrantDriver) Query(ctx context.Context, userID string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	limit := uint64(topK)
	hits, err := d.client.Query(ctx, &qdr.QueryPoints{
		CollectionName: d.collection,
		Query:          qdr.NewQuery(embedding...),
		Limit:          &limit,
		Filter: &qdr.Filter{
			Must: []*qdr.Condition{
				qdr.NewMatch("user_id", userID),
			},
		},
		WithPayload: qdr.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(hits))
	for _, hit := range hits {
		doc := vector.Document{
			ID:     pointIDString(hit.Id),
			UserID: userID,
		}
		if payload := hit.Payload; payload != nil {
			if v, ok := payload["user_id"]; ok {
				doc.UserID = v.GetStringValue()
			}
			if v, ok := payload["text"]; ok {
				doc.Text = v.GetStringValue()
			}
		}
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    hit.Score,
		})
	}

	d.logger.Debug("queried qdrant",
		zap.String("user_id", userID),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Get retrieves documents by their IDs.
func (d *QdrantDriver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdr.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdr.NewID(id)
	}

	points, err := d.client.Get(ctx, &qdr.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs,
		WithPayload:    qdr.NewWithPayload(true),
		WithVectors:    qdr.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting points: %w", err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		doc := vector.Document{
			ID: pointIDString(p.Id),
		}
		if payload := p.Payload; payload != nil {
			if v, ok := payload["user_id"]; ok {
				doc.UserID = v.GetStringValue()
			}
			if v, ok := payload["text"]; ok {
				doc.Text = v.GetStringValue()
			}
		}
		if vecs := p.Vectors.GetVector(); vecs != nil {
			doc.Embedding = vecs.Data
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Delete removes documents by their IDs.
func (d *QdrantDriver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdr.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdr.NewID(id)
	}

	_, err := d.client.Delete(ctx, &qdr.DeletePoints{
		CollectionName: d.collection,
		Points:         qdr.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	d.logger.Debug("deleted documents from qdrant",
		zap.Int("count", len(ids)),
	)

	return nil
}

// Close releases the gRPC connection.
func (d *QdrantDriver) Close() error {
	return d.client.Close()
}

func pointIDString(id *qdr.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}
