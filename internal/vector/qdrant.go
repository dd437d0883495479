package vector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kensaku/internal/models"
	"go.uber.org/zap"
)

const qdrantDefaultTimeout = 30 * time.Second

// Qdrant payload keys.
const (
	qdrantKeyContent      = "content"
	qdrantKeyDocumentID   = "documentId"
	qdrantKeyDocumentName = "documentName"
	qdrantKeyFileType     = "fileType"
	qdrantKeyChunkIndex   = "chunkIndex"
)

// QdrantIndex stores chunks as points in a Qdrant collection over its REST API.
type QdrantIndex struct {
	client     *resty.Client
	collection string
	dimensions int
	metric     Metric
	gate       readyGate
	logger     *zap.Logger
}

// NewQdrantIndex returns an index for collection on the Qdrant server at baseURL.
func NewQdrantIndex(baseURL, apiKey, collection string, dimensions int, metric Metric, logger *zap.Logger) (*QdrantIndex, error) {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant requires positive embedding dimensions")
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(qdrantDefaultTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("api-key", apiKey)
	}
	return &QdrantIndex{
		client:     client,
		collection: collection,
		dimensions: dimensions,
		metric:     metric,
		logger:     logger,
	}, nil
}

func (q *QdrantIndex) qdrantDistance() string {
	if q.metric == MetricL2 {
		return "Euclid"
	}
	return "Cosine"
}

type qdrantStatus struct {
	Status any `json:"status"`
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var apiErr qdrantStatus
	req := q.client.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant %s %s: %w", ErrIndexUnavailable, method, path, err)
	}
	if resp.IsError() {
		return resp.StatusCode(), fmt.Errorf("%w: qdrant %s %s: status %d: %v", ErrIndexUnavailable, method, path, resp.StatusCode(), apiErr.Status)
	}
	return resp.StatusCode(), nil
}

// EnsureReady creates the collection when it does not exist.
func (q *QdrantIndex) EnsureReady(ctx context.Context) error {
	return q.gate.Do(ctx, func(ctx context.Context) error {
		path := "/collections/" + q.collection
		status, err := q.do(ctx, http.MethodGet, path, nil, nil)
		if err == nil {
			return nil
		}
		if status != http.StatusNotFound {
			return err
		}
		body := map[string]any{
			"vectors": map[string]any{
				"size":     q.dimensions,
				"distance": q.qdrantDistance(),
			},
		}
		if _, err := q.do(ctx, http.MethodPut, path, body, nil); err != nil {
			return err
		}
		if q.logger != nil {
			q.logger.Debug("qdrant collection created", zap.String("collection", q.collection))
		}
		return nil
	})
}

// Add upserts all chunks in one request and waits for them to be indexed.
func (q *QdrantIndex) Add(ctx context.Context, chunks []*models.Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := q.EnsureReady(ctx); err != nil {
		return err
	}
	points := make([]map[string]any, 0, len(chunks))
	for _, ch := range chunks {
		points = append(points, map[string]any{
			"id":     ch.ID,
			"vector": ch.Embedding,
			"payload": map[string]any{
				qdrantKeyContent:      ch.Content,
				qdrantKeyDocumentID:   ch.Metadata.DocumentID,
				qdrantKeyDocumentName: ch.Metadata.DocumentName,
				qdrantKeyFileType:     ch.Metadata.FileType,
				qdrantKeyChunkIndex:   ch.Metadata.ChunkIndex,
			},
		})
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collection)
	if _, err := q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return err
	}
	if q.logger != nil {
		q.logger.Debug("qdrant upsert", zap.String("collection", q.collection), zap.Int("chunks", len(chunks)))
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Query searches the collection. Cosine scores are converted to cosine distance.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int) ([]*Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := q.EnsureReady(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var out qdrantSearchResponse
	if _, err := q.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collection), body, &out); err != nil {
		return nil, err
	}
	matches := make([]*Match, 0, len(out.Result))
	for _, r := range out.Result {
		m := &Match{
			ID:       fmt.Sprint(r.ID),
			Distance: q.distance(r.Score),
		}
		m.Content, _ = r.Payload[qdrantKeyContent].(string)
		m.Metadata.DocumentID, _ = r.Payload[qdrantKeyDocumentID].(string)
		m.Metadata.DocumentName, _ = r.Payload[qdrantKeyDocumentName].(string)
		m.Metadata.FileType, _ = r.Payload[qdrantKeyFileType].(string)
		if v, ok := r.Payload[qdrantKeyChunkIndex].(float64); ok {
			m.Metadata.ChunkIndex = int(v)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// distance converts a Qdrant score. Euclid scores are already distances.
func (q *QdrantIndex) distance(score float64) float64 {
	if q.metric == MetricL2 {
		return score
	}
	d := 1 - score
	if d < 0 {
		return 0
	}
	return d
}

// DeleteByDocument deletes points whose documentId payload matches.
func (q *QdrantIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := q.EnsureReady(ctx); err != nil {
		return err
	}
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   qdrantKeyDocumentID,
					"match": map[string]any{"value": documentID},
				},
			},
		},
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collection)
	if _, err := q.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return err
	}
	if q.logger != nil {
		q.logger.Debug("qdrant delete", zap.String("document_id", documentID))
	}
	return nil
}

// Count returns the exact number of points.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	if err := q.EnsureReady(ctx); err != nil {
		return 0, err
	}
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", q.collection)
	if _, err := q.do(ctx, http.MethodPost, path, map[string]any{"exact": true}, &out); err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}

// Close is a no-op; resty holds no connection state that needs releasing.
func (q *QdrantIndex) Close() error {
	return nil
}
