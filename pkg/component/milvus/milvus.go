// Package milvus wraps the Milvus SDK for storing and searching document
// chunk embeddings.
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/anticorruption-bot/pkg/options/milvus"
)

// Collection field names.
const (
	FieldID        = "id"
	FieldEmbedding = "embedding"
	FieldText      = "text"
	FieldSource    = "source"
)

const (
	maxTextLen   = 8192
	maxSourceLen = 512
)

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options
}

// New creates a new Milvus client. The connection attempt is bounded by opts.Timeout.
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", opts.Address, err)
	}

	return &Client{
		client: c,
		opts:   opts,
	}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// Collection returns the configured collection name.
func (c *Client) Collection() string {
	return c.opts.Collection
}

// EnsureCollection creates the chunk collection with an IVF_FLAT L2 index when
// it does not exist yet, then loads it into memory. The primary key is the
// chunk position in the snapshot, not an auto id.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	name := c.opts.Collection

	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription("anticorruption document chunks").
			WithAutoID(false).
			WithField(entity.NewField().
				WithName(FieldID).
				WithDataType(entity.FieldTypeInt64).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(FieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dim))).
			WithField(entity.NewField().
				WithName(FieldText).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxTextLen)).
			WithField(entity.NewField().
				WithName(FieldSource).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxSourceLen))

		if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewIvfFlatIndex(entity.L2, 128)
		task, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, FieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
	}

	return c.Load(ctx)
}

// Load loads the collection into memory so it can be searched.
func (c *Client) Load(ctx context.Context) error {
	task, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(c.opts.Collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Chunk is one row of the collection.
type Chunk struct {
	ID        int64
	Embedding []float32
	Text      string
	Source    string
}

// Upsert writes chunks keyed by Chunk.ID and flushes them. Rows with an
// existing id are replaced, so repeated publishing keeps one copy per chunk.
func (c *Client) Upsert(ctx context.Context, chunks []Chunk) (int64, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	dim := len(chunks[0].Embedding)
	ids := make([]int64, len(chunks))
	vectors := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	for i, ch := range chunks {
		if len(ch.Embedding) != dim {
			return 0, fmt.Errorf("chunk %d has dimension %d, want %d", i, len(ch.Embedding), dim)
		}
		ids[i] = ch.ID
		vectors[i] = ch.Embedding
		texts[i] = ch.Text
		sources[i] = ch.Source
	}

	name := c.opts.Collection
	result, err := c.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(name,
		column.NewColumnInt64(FieldID, ids),
		column.NewColumnFloatVector(FieldEmbedding, dim, vectors),
		column.NewColumnVarChar(FieldText, texts),
		column.NewColumnVarChar(FieldSource, sources),
	))
	if err != nil {
		return 0, fmt.Errorf("failed to upsert data: %w", err)
	}

	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(name))
	if err != nil {
		return 0, fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return 0, fmt.Errorf("failed to wait for flush: %w", err)
	}

	return result.UpsertCount, nil
}

// SearchResult represents a single search hit. Distance is the L2 distance
// reported by Milvus; smaller is closer.
type SearchResult struct {
	ID       int64
	Distance float32
	Text     string
	Source   string
}

// Search performs a kNN search over the embedding field.
func (c *Client) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		c.opts.Collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(FieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithOutputFields(FieldText, FieldSource))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if len(results) == 0 {
		return []SearchResult{}, nil
	}

	rs := results[0]
	return parseResults(rs.ResultCount, rs.IDs, rs.Fields, rs.Scores), nil
}

// parseResults flattens one result set; rows missing from short columns are skipped.
func parseResults(count int, ids column.Column, fields []column.Column, scores []float32) []SearchResult {
	out := make([]SearchResult, 0, count)
	for i := 0; i < count && i < len(scores); i++ {
		r := SearchResult{Distance: scores[i]}

		if idCol, ok := ids.(*column.ColumnInt64); ok && i < idCol.Len() {
			r.ID = idCol.Data()[i]
		}

		for _, field := range fields {
			col, ok := field.(*column.ColumnVarChar)
			if !ok || i >= col.Len() {
				continue
			}
			switch col.Name() {
			case FieldText:
				r.Text = col.Data()[i]
			case FieldSource:
				r.Source = col.Data()[i]
			}
		}

		out = append(out, r)
	}
	return out
}

// Count returns the number of entities in the collection.
func (c *Client) Count(ctx context.Context) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(c.opts.Collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}

	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}
