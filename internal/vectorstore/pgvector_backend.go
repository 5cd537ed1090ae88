package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/manifold-chat/core/internal/model"
)

// pgvectorBackend is the "faiss"-shaped embedded/local backend: an ANN index
// living beside a catalog (here Postgres/pgvector instead of raw SQLite, but
// serving the same role spec.md assigns to the local backend + catalog
// pair). Grounded on internal/sefii/engine.go's EnsureTable/ivfflat index
// and internal/services/pgvector.go.
type pgvectorBackend struct {
	pool       *pgxpool.Pool
	table      string
	dimension  int
	metric     model.DistanceMetric
}

func newPgvectorBackend(ctx context.Context, pool *pgxpool.Pool, collection string, dimension int, metric model.DistanceMetric) (*pgvectorBackend, error) {
	b := &pgvectorBackend{pool: pool, table: "vec_" + collection, dimension: dimension, metric: metric}
	if err := b.ensureTable(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *pgvectorBackend) opClass() string {
	switch b.metric {
	case model.MetricL2:
		return "vector_l2_ops"
	case model.MetricIP:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

func (b *pgvectorBackend) ensureTable(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, pgx.Identifier{b.table}.Sanitize(), b.dimension)
	if _, err := b.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create vector table %s: %w", b.table, err)
	}
	createIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding %s) WITH (lists = 100)`,
		b.table, pgx.Identifier{b.table}.Sanitize(), b.opClass())
	if _, err := b.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("create ivfflat index on %s: %w", b.table, err)
	}
	return nil
}

func (b *pgvectorBackend) addDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32, ids []string) error {
	if len(chunks) != len(embeddings) || len(chunks) != len(ids) {
		return fmt.Errorf("addDocuments: mismatched slice lengths")
	}
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`, pgx.Identifier{b.table}.Sanitize())
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, query, ids[i], c.Text, meta, pgvector.NewVector(embeddings[i])); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", ids[i], err)
		}
	}
	return tx.Commit(ctx)
}

func (b *pgvectorBackend) distanceOperator() string {
	switch b.metric {
	case model.MetricL2:
		return "<->"
	case model.MetricIP:
		return "<#>"
	default:
		return "<=>"
	}
}

func (b *pgvectorBackend) similaritySearch(ctx context.Context, query []float32, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	sql := fmt.Sprintf(
		`SELECT id, content, metadata, embedding %s $1 AS distance FROM %s ORDER BY distance ASC LIMIT $2`,
		b.distanceOperator(), pgx.Identifier{b.table}.Sanitize())
	rows, err := b.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func (b *pgvectorBackend) getByIDs(ctx context.Context, ids []string) ([]SearchHit, error) {
	sql := fmt.Sprintf(`SELECT id, content, metadata, 0 AS distance FROM %s WHERE id = ANY($1)`,
		pgx.Identifier{b.table}.Sanitize())
	rows, err := b.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("pgvector get by ids: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func scanHits(rows pgx.Rows) ([]SearchHit, error) {
	var out []SearchHit
	for rows.Next() {
		var id, content string
		var metaRaw []byte
		var distance float64
		if err := rows.Scan(&id, &content, &metaRaw, &distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		meta := map[string]string{}
		_ = json.Unmarshal(metaRaw, &meta)
		out = append(out, SearchHit{ID: id, Distance: distance, Text: content, Metadata: meta})
	}
	return out, rows.Err()
}

func (b *pgvectorBackend) count(ctx context.Context) (int64, error) {
	var n int64
	sql := fmt.Sprintf(`SELECT count(*) FROM %s`, pgx.Identifier{b.table}.Sanitize())
	if err := b.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", b.table, err)
	}
	return n, nil
}

// checkpoint is pgvector's durability barrier, the embedded-catalog analog
// of SQLite's PRAGMA wal_checkpoint(TRUNCATE): force dirty buffers to disk
// before reporting how many rows are durable.
func (b *pgvectorBackend) checkpoint(ctx context.Context) (checkpointStats, error) {
	if _, err := b.pool.Exec(ctx, `CHECKPOINT`); err != nil {
		return checkpointStats{}, fmt.Errorf("checkpoint: %w", err)
	}
	n, err := b.count(ctx)
	if err != nil {
		return checkpointStats{}, err
	}
	return checkpointStats{CheckpointedPages: n}, nil
}

func (b *pgvectorBackend) close(ctx context.Context) error {
	b.pool.Close()
	return nil
}
