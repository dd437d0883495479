package vector

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"go.uber.org/zap"
)

// Milvus collection field names.
const (
	milvusFieldID           = "id"
	milvusFieldDocumentID   = "document_id"
	milvusFieldDocumentName = "document_name"
	milvusFieldFileType     = "file_type"
	milvusFieldChunkIndex   = "chunk_index"
	milvusFieldContent      = "content"
	milvusFieldVector       = "vector"

	milvusMaxContentLength = 65535
)

var milvusOutputFields = []string{
	milvusFieldDocumentID,
	milvusFieldDocumentName,
	milvusFieldFileType,
	milvusFieldChunkIndex,
	milvusFieldContent,
}

// MilvusIndex stores chunks in a Milvus collection. The connection and collection
// are created lazily on first use.
type MilvusIndex struct {
	address    string
	collection string
	dimensions int
	metric     Metric
	client     *milvusclient.Client
	gate       readyGate
	logger     *zap.Logger
}

// NewMilvusIndex returns an index for collection on the Milvus server at address.
// dimensions must match the embedding model.
func NewMilvusIndex(address, collection string, dimensions int, metric Metric, logger *zap.Logger) (*MilvusIndex, error) {
	if address == "" {
		return nil, fmt.Errorf("milvus address is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("milvus collection is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("milvus requires positive embedding dimensions")
	}
	return &MilvusIndex{
		address:    address,
		collection: collection,
		dimensions: dimensions,
		metric:     metric,
		logger:     logger,
	}, nil
}

// EnsureReady connects, creates the collection and its vector index if missing, and loads it.
func (m *MilvusIndex) EnsureReady(ctx context.Context) error {
	return m.gate.Do(ctx, func(ctx context.Context) error {
		if m.client == nil {
			client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: m.address})
			if err != nil {
				return fmt.Errorf("%w: connect milvus %s: %w", ErrIndexUnavailable, m.address, err)
			}
			m.client = client
		}
		exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(m.collection))
		if err != nil {
			return fmt.Errorf("%w: check collection %s: %w", ErrIndexUnavailable, m.collection, err)
		}
		if !exists {
			if err := m.createCollection(ctx); err != nil {
				return err
			}
		}
		if _, err := m.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(m.collection)); err != nil {
			return fmt.Errorf("%w: load collection %s: %w", ErrIndexUnavailable, m.collection, err)
		}
		if m.logger != nil {
			m.logger.Debug("milvus collection ready", zap.String("collection", m.collection), zap.Bool("created", !exists))
		}
		return nil
	})
}

func (m *MilvusIndex) createCollection(ctx context.Context) error {
	createOpt := milvusclient.NewCreateCollectionOption(m.collection, milvusSchema(m.collection, m.dimensions))
	if err := m.client.CreateCollection(ctx, createOpt); err != nil {
		return fmt.Errorf("%w: create collection %s: %w", ErrIndexUnavailable, m.collection, err)
	}
	idx := index.NewHNSWIndex(milvusMetricType(m.metric), 16, 200)
	if _, err := m.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(m.collection, milvusFieldVector, idx)); err != nil {
		return fmt.Errorf("%w: create index on %s: %w", ErrIndexUnavailable, m.collection, err)
	}
	return nil
}

func milvusSchema(collection string, dimensions int) *entity.Schema {
	return &entity.Schema{
		CollectionName: collection,
		Description:    "Code document chunks",
		Fields: []*entity.Field{
			{
				Name:       milvusFieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       milvusFieldDocumentID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       milvusFieldDocumentName,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
			{
				Name:       milvusFieldFileType,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "32"},
			},
			{
				Name:     milvusFieldChunkIndex,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       milvusFieldContent,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(milvusMaxContentLength)},
			},
			{
				Name:       milvusFieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dimensions)},
			},
		},
	}
}

func milvusMetricType(metric Metric) entity.MetricType {
	if metric == MetricL2 {
		return entity.L2
	}
	return entity.COSINE
}

// milvusDistance converts a Milvus search score to a distance. COSINE scores are
// similarities; L2 scores already are distances.
func milvusDistance(metric Metric, score float32) float64 {
	if metric == MetricL2 {
		return float64(score)
	}
	d := 1 - float64(score)
	if d < 0 {
		return 0
	}
	return d
}

// documentFilter returns the boolean expression selecting a document's chunks.
func documentFilter(documentID string) string {
	return fmt.Sprintf("%s == %s", milvusFieldDocumentID, strconv.Quote(documentID))
}

// checkMilvusChunk rejects chunks the collection schema cannot hold. Neither case
// is transient.
func checkMilvusChunk(ch *models.Chunk, dimensions int) error {
	if len(ch.Embedding) != dimensions {
		return fmt.Errorf("chunk %s has dimension %d, collection expects %d", ch.ID, len(ch.Embedding), dimensions)
	}
	if len(ch.Content) > milvusMaxContentLength {
		return fmt.Errorf("%w: chunk %d of %s is %d bytes, milvus stores at most %d",
			ErrChunkTooLarge, ch.Metadata.ChunkIndex, ch.Metadata.DocumentName, len(ch.Content), milvusMaxContentLength)
	}
	return nil
}

// Add inserts all chunks in one column-based insert.
func (m *MilvusIndex) Add(ctx context.Context, chunks []*models.Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}
	n := len(chunks)
	ids := make([]string, n)
	docIDs := make([]string, n)
	names := make([]string, n)
	types := make([]string, n)
	ordinals := make([]int64, n)
	contents := make([]string, n)
	vectors := make([][]float32, n)
	for i, ch := range chunks {
		if err := checkMilvusChunk(ch, m.dimensions); err != nil {
			return err
		}
		ids[i] = ch.ID
		docIDs[i] = ch.Metadata.DocumentID
		names[i] = ch.Metadata.DocumentName
		types[i] = ch.Metadata.FileType
		ordinals[i] = int64(ch.Metadata.ChunkIndex)
		contents[i] = ch.Content
		vectors[i] = ch.Embedding
	}
	opt := milvusclient.NewColumnBasedInsertOption(m.collection).
		WithVarcharColumn(milvusFieldID, ids).
		WithVarcharColumn(milvusFieldDocumentID, docIDs).
		WithVarcharColumn(milvusFieldDocumentName, names).
		WithVarcharColumn(milvusFieldFileType, types).
		WithInt64Column(milvusFieldChunkIndex, ordinals).
		WithVarcharColumn(milvusFieldContent, contents).
		WithFloatVectorColumn(milvusFieldVector, m.dimensions, vectors)
	if _, err := m.client.Insert(ctx, opt); err != nil {
		return fmt.Errorf("%w: insert %d chunks: %w", ErrIndexUnavailable, n, err)
	}
	if m.logger != nil {
		m.logger.Debug("milvus insert", zap.String("collection", m.collection), zap.Int("chunks", n))
	}
	return nil
}

// Query searches the vector field with strong consistency so fresh inserts are visible.
func (m *MilvusIndex) Query(ctx context.Context, vector []float32, k int) ([]*Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := m.EnsureReady(ctx); err != nil {
		return nil, err
	}
	opt := milvusclient.NewSearchOption(m.collection, k, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(milvusFieldVector).
		WithOutputFields(milvusOutputFields...).
		WithConsistencyLevel(entity.ClStrong)
	results, err := m.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %w", ErrIndexUnavailable, m.collection, err)
	}
	if len(results) == 0 || results[0].ResultCount == 0 {
		return nil, nil
	}
	rs := results[0]
	matches := make([]*Match, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("%w: read id %d: %w", ErrIndexUnavailable, i, err)
		}
		match := &Match{ID: id}
		if i < len(rs.Scores) {
			match.Distance = milvusDistance(m.metric, rs.Scores[i])
		}
		if col := rs.GetColumn(milvusFieldContent); col != nil {
			match.Content, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(milvusFieldDocumentID); col != nil {
			match.Metadata.DocumentID, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(milvusFieldDocumentName); col != nil {
			match.Metadata.DocumentName, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(milvusFieldFileType); col != nil {
			match.Metadata.FileType, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(milvusFieldChunkIndex); col != nil {
			if v, err := col.GetAsInt64(i); err == nil {
				match.Metadata.ChunkIndex = int(v)
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// DeleteByDocument deletes by filter expression on document_id.
func (m *MilvusIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}
	opt := milvusclient.NewDeleteOption(m.collection).WithExpr(documentFilter(documentID))
	result, err := m.client.Delete(ctx, opt)
	if err != nil {
		return fmt.Errorf("%w: delete chunks of document %s: %w", ErrIndexUnavailable, documentID, err)
	}
	if m.logger != nil {
		m.logger.Debug("milvus delete", zap.String("document_id", documentID), zap.Int64("removed", result.DeleteCount))
	}
	return nil
}

// Count returns count(*) of the collection.
func (m *MilvusIndex) Count(ctx context.Context) (int, error) {
	if err := m.EnsureReady(ctx); err != nil {
		return 0, err
	}
	opt := milvusclient.NewQueryOption(m.collection).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong)
	rs, err := m.client.Query(ctx, opt)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrIndexUnavailable, m.collection, err)
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("%w: read count: %w", ErrIndexUnavailable, err)
	}
	return int(n), nil
}

// Close closes the client connection if one was opened.
func (m *MilvusIndex) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close(context.Background())
}
