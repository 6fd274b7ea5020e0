package pck

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"pckengine/internal/llmclient"
)

// similarTrajectoryPayloadIDField stores the original trajectory id in the
// point payload, since Qdrant point ids must be UUIDs or positive integers
// and trajectory ids, though produced as UUID strings, are addressed as
// plain strings everywhere else in this package.
const similarTrajectoryPayloadIDField = "_trajectory_id"

// SimilarTrajectory is one nearest-neighbour hit.
type SimilarTrajectory struct {
	TrajectoryID string
	Score        float64
}

// SimilarTrajectoryIndex supplements inputHash (a coarse, collision-prone
// 32-bit fingerprint) with an embedding-based nearest-neighbour lookup over
// Trajectory.InputText, so AgentOrchestrator can surface "situations like
// this one" evidence alongside GraphReasoner.Simulate's output. It is
// entirely optional and best-effort: a nil *SimilarTrajectoryIndex is
// valid, and every method on it degrades to a no-op.
type SimilarTrajectoryIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	embedder   llmclient.Embedder
}

// NewSimilarTrajectoryIndex connects to Qdrant and ensures collection
// exists, or returns (nil, nil) when addr is empty — matching the
// teacher's "if !cfg.Enabled { return nil, nil }" convention for optional
// backends.
func NewSimilarTrajectoryIndex(addr, collection string, dimensions int, embedder llmclient.Embedder) (*SimilarTrajectoryIndex, error) {
	if addr == "" {
		return nil, nil
	}
	if collection == "" {
		return nil, fmt.Errorf("similar trajectory index: collection name is required")
	}
	cfg, err := parseQdrantAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("similar trajectory index: %w", err)
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("similar trajectory index: create client: %w", err)
	}
	idx := &SimilarTrajectoryIndex{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		embedder:   embedder,
	}
	ctx := context.Background()
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("similar trajectory index: ensure collection: %w", err)
	}
	return idx, nil
}

// parseQdrantAddr turns a DSN like "http://localhost:6334?api_key=xyz" into
// a qdrant.Config, defaulting the host to "localhost" and the port to 6334
// (the client's gRPC port, not the 6333 REST port) when absent. A bare
// "host" or "host:port" without a scheme is read as plain http.
func parseQdrantAddr(addr string) (*qdrant.Config, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	parsedURL, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = parsedURL.Path
	}
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	return cfg, nil
}

func (idx *SimilarTrajectoryIndex) ensureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if idx.dimension <= 0 {
		return fmt.Errorf("dimensions must be > 0")
	}
	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// Index embeds inputText and upserts it under trajectoryID. Call this once
// a trajectory completes, so the index only ever surfaces finished walks.
func (idx *SimilarTrajectoryIndex) Index(ctx context.Context, trajectoryID, inputText string) error {
	if idx == nil {
		return nil
	}
	vec, err := idx.embedder.Embed(ctx, inputText)
	if err != nil {
		return fmt.Errorf("similar trajectory index: embed: %w", err)
	}
	pointUUID := trajectoryID
	if _, err := uuid.Parse(trajectoryID); err != nil {
		pointUUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(trajectoryID)).String()
	}
	payload := qdrant.NewValueMap(map[string]any{
		similarTrajectoryPayloadIDField: trajectoryID,
	})
	_, err = idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("similar trajectory index: upsert: %w", err)
	}
	return nil
}

// SimilarTo returns the k trajectories whose indexed inputText is closest
// to inputText, excluding none (callers filter out the trajectory being
// completed themselves by id, since it may not be indexed yet anyway).
func (idx *SimilarTrajectoryIndex) SimilarTo(ctx context.Context, inputText string, k int) ([]SimilarTrajectory, error) {
	if idx == nil {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}
	vec, err := idx.embedder.Embed(ctx, inputText)
	if err != nil {
		return nil, fmt.Errorf("similar trajectory index: embed: %w", err)
	}
	limit := uint64(k)
	hits, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("similar trajectory index: query: %w", err)
	}
	results := make([]SimilarTrajectory, 0, len(hits))
	for _, hit := range hits {
		trajectoryID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[similarTrajectoryPayloadIDField]; ok {
				trajectoryID = v.GetStringValue()
			}
		}
		if trajectoryID == "" {
			continue
		}
		results = append(results, SimilarTrajectory{TrajectoryID: trajectoryID, Score: float64(hit.Score)})
	}
	return results, nil
}

// Close releases the underlying Qdrant connection.
func (idx *SimilarTrajectoryIndex) Close() {
	if idx == nil || idx.client == nil {
		return
	}
	idx.client.Close()
}
