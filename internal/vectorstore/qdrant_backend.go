package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/manifold-chat/core/internal/model"
)

const payloadTextField = "_text"
const payloadOriginalIDField = "_original_id"

// qdrantBackend is the "chroma"-shaped remote-server backend: a network
// vector database the registry dials once per collection. Grounded on
// internal/persistence/databases/qdrant_vector.go.
type qdrantBackend struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     model.DistanceMetric
}

func newQdrantBackend(ctx context.Context, dsn, collection string, dimension int, metric model.DistanceMetric) (*qdrantBackend, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if key := parsed.Query().Get("api_key"); key != "" {
		cfg.APIKey = key
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	b := &qdrantBackend{client: client, collection: collection, dimension: dimension, metric: metric}
	if err := b.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

func (b *qdrantBackend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch b.metric {
	case model.MetricL2:
		distance = qdrant.Distance_Euclid
	case model.MetricIP:
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	if b.dimension <= 0 {
		return fmt.Errorf("qdrant backend requires dimension > 0")
	}
	return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(b.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func (b *qdrantBackend) addDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32, ids []string) error {
	if len(chunks) != len(embeddings) || len(chunks) != len(ids) {
		return fmt.Errorf("addDocuments: mismatched slice lengths")
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		uuidStr, remapped := pointIDFor(ids[i])
		payload := make(map[string]any, len(c.Metadata)+2)
		for k, v := range c.Metadata {
			payload[k] = v
		}
		payload[payloadTextField] = c.Text
		if remapped {
			payload[payloadOriginalIDField] = ids[i]
		}
		vec := make([]float32, len(embeddings[i]))
		copy(vec, embeddings[i])
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (b *qdrantBackend) similaritySearch(ctx context.Context, query []float32, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	hits, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	out := toSearchHits(hits)
	// Qdrant scores cosine and dot queries as a similarity (higher is closer)
	// and Euclid queries as a distance; turn the former into 1 - similarity
	// so SearchHit.Distance is a distance for every metric.
	if b.metric != model.MetricL2 {
		for i := range out {
			out[i].Distance = 1 - out[i].Distance
		}
	}
	return out, nil
}

func toSearchHits(hits []*qdrant.ScoredPoint) []SearchHit {
	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, scoredPointToHit(hit.Id, hit.Payload, float64(hit.Score)))
	}
	return out
}

func scoredPointToHit(pointID *qdrant.PointId, payload map[string]*qdrant.Value, distance float64) SearchHit {
	uuidStr := pointID.GetUuid()
	if uuidStr == "" {
		uuidStr = pointID.String()
	}
	metadata := make(map[string]string)
	var text, originalID string
	for k, v := range payload {
		switch k {
		case payloadTextField:
			text = v.GetStringValue()
		case payloadOriginalIDField:
			originalID = v.GetStringValue()
		default:
			metadata[k] = v.GetStringValue()
		}
	}
	id := originalID
	if id == "" {
		id = uuidStr
	}
	return SearchHit{ID: id, Distance: distance, Text: text, Metadata: metadata}
}

func (b *qdrantBackend) getByIDs(ctx context.Context, ids []string) ([]SearchHit, error) {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		uuidStr, _ := pointIDFor(id)
		pointIDs = append(pointIDs, qdrant.NewIDUUID(uuidStr))
	}
	points, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: b.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get: %w", err)
	}
	out := make([]SearchHit, 0, len(points))
	for _, p := range points {
		out = append(out, scoredPointToHit(p.Id, p.Payload, 0))
	}
	return out, nil
}

func (b *qdrantBackend) count(ctx context.Context) (int64, error) {
	n, err := b.client.Count(ctx, &qdrant.CountPoints{CollectionName: b.collection})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int64(n), nil
}

// checkpoint issues a Qdrant snapshot as the backend's durability barrier,
// the Qdrant analog of a SQLite WAL checkpoint.
func (b *qdrantBackend) checkpoint(ctx context.Context) (checkpointStats, error) {
	_, err := b.client.CreateSnapshot(ctx, b.collection)
	if err != nil {
		return checkpointStats{}, fmt.Errorf("qdrant snapshot: %w", err)
	}
	n, err := b.count(ctx)
	if err != nil {
		return checkpointStats{}, err
	}
	return checkpointStats{CheckpointedPages: n}, nil
}

func (b *qdrantBackend) close(ctx context.Context) error {
	return b.client.Close()
}
