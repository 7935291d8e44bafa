package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pdfchat/internal/model"
)

// Config holds connection settings for the Qdrant gRPC endpoint. Port is the
// gRPC port (6334 by default), not the HTTP REST port.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	UseTLS     bool
	Dimension  uint64
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("vectorstore: host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("vectorstore: invalid port %d", c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("vectorstore: collection name required")
	}
	if c.Dimension == 0 {
		return fmt.Errorf("vectorstore: dimension required")
	}
	return nil
}

// Qdrant wraps the official Qdrant Go client with the put/query/delete/
// describe surface the pipelines need. It holds no state beyond the
// connection and the target collection.
type Qdrant struct {
	client *qdrant.Client
	cfg    Config
}

// New connects, verifies the server is reachable, and creates the collection
// if it does not exist yet (cosine distance, configured dimension).
func New(ctx context.Context, cfg Config) (*Qdrant, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant failed: %w", err)
	}

	store := &Qdrant{client: client, cfg: cfg}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(checkCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// EnsureCollection creates the target collection when missing.
func (s *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.createCollection(ctx)
}

func (s *Qdrant) collectionExists(ctx context.Context) (bool, error) {
	_, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("check collection %s failed: %w", s.cfg.Collection, err)
	}
	return true, nil
}

func (s *Qdrant) createCollection(ctx context.Context) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.Dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s failed: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert writes the records as points. Same record id overwrites; the call
// waits for the write to be applied so a subsequent query sees it.
func (s *Qdrant) Upsert(ctx context.Context, records []model.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		payload := map[string]*qdrant.Value{
			"text":   {Kind: &qdrant.Value_StringValue{StringValue: rec.Text}},
			"source": {Kind: &qdrant.Value_StringValue{StringValue: rec.Source}},
			"page":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.Page)}},
			"chunk":  {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.Chunk)}},
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Values...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points failed: %w", len(points), err)
	}
	return nil
}

// Query runs a similarity search and returns matches in descending score
// order with their payloads. Fewer than topK matches come back when the
// collection holds fewer points.
func (s *Qdrant) Query(ctx context.Context, vector []float32, topK uint64) ([]model.Match, error) {
	if topK == 0 {
		return nil, fmt.Errorf("query top_k must be positive")
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	matches := make([]model.Match, 0, len(points))
	for _, point := range points {
		m := model.Match{Score: point.Score}
		if id := point.Id.GetUuid(); id != "" {
			m.ID = id
		}
		for key, value := range point.Payload {
			switch key {
			case "text":
				m.Text = value.GetStringValue()
			case "source":
				m.Source = value.GetStringValue()
			case "page":
				m.Page = int(value.GetIntegerValue())
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes points by id.
func (s *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete %d points failed: %w", len(ids), err)
	}
	return nil
}

// DeleteBySource removes every point whose payload source equals the given
// filename. This is the delete-by-filter primitive: one call removes a whole
// document regardless of how many points it produced.
func (s *Qdrant) DeleteBySource(ctx context.Context, source string) error {
	if source == "" {
		return fmt.Errorf("delete source must not be empty")
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: "source",
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keyword{Keyword: source},
									},
								},
							},
						},
					},
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete by source %q failed: %w", source, err)
	}
	return nil
}

// PruneSource removes a source's records whose chunk ordinal is at or above
// fromChunk. Record ids are deterministic per (source, ordinal), so after a
// document shrinks its tail ordinals are never overwritten and would
// otherwise linger in the index.
func (s *Qdrant) PruneSource(ctx context.Context, source string, fromChunk int) error {
	if source == "" {
		return fmt.Errorf("prune source must not be empty")
	}
	if fromChunk < 0 {
		fromChunk = 0
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: "source",
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keyword{Keyword: source},
									},
								},
							},
						},
						{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: "chunk",
									Range: &qdrant.Range{
										Gte: qdrant.PtrOf(float64(fromChunk)),
									},
								},
							},
						},
					},
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("prune source %q from chunk %d failed: %w", source, fromChunk, err)
	}
	return nil
}

// Reset drops and recreates the collection, removing every record in one
// pass. Preferred over enumerating ids through a broad query.
func (s *Qdrant) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
			return fmt.Errorf("drop collection %s failed: %w", s.cfg.Collection, err)
		}
	}
	return s.createCollection(ctx)
}

// Stats returns the collection's point count and the configured dimension.
func (s *Qdrant) Stats(ctx context.Context) (model.IndexStats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return model.IndexStats{}, fmt.Errorf("describe collection %s failed: %w", s.cfg.Collection, err)
	}
	stats := model.IndexStats{Dimension: s.cfg.Dimension}
	if info.PointsCount != nil {
		stats.TotalVectorCount = *info.PointsCount
	}
	return stats, nil
}

// HealthCheck verifies the server responds.
func (s *Qdrant) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

func (s *Qdrant) Close() error {
	return s.client.Close()
}

// IsTransient reports whether a store error is worth retrying: service
// unavailable, deadline exceeded, aborted, or rate-limited.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}
