package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/recipe-lab/internal/core/ask"
	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/index"
	"github.com/jinford/recipe-lab/internal/core/ingestion"
	"github.com/jinford/recipe-lab/internal/platform/database"
)

// DefaultTable はチャンクとベクトルを格納するテーブル名
const DefaultTable = "recipe_chunks"

// VectorRepository はインデックスを pgvector テーブルにミラーし、内積で検索する
// テーブルの行 position はファイルインデックスの位置と一致する
type VectorRepository struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// VectorRepositoryOption は VectorRepository のオプション設定
type VectorRepositoryOption func(*VectorRepository)

// WithTable はテーブル名を上書きする
func WithTable(table string) VectorRepositoryOption {
	return func(r *VectorRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// WithRepositoryLogger は VectorRepository にロガーを設定する
func WithRepositoryLogger(logger *slog.Logger) VectorRepositoryOption {
	return func(r *VectorRepository) {
		r.logger = logger
	}
}

// NewVectorRepository は新しい VectorRepository を返す。
func NewVectorRepository(pool *pgxpool.Pool, opts ...VectorRepositoryOption) *VectorRepository {
	r := &VectorRepository{
		pool:   pool,
		table:  DefaultTable,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

var (
	_ ingestion.Publisher = (*VectorRepository)(nil)
	_ ask.Searcher        = (*VectorRepository)(nil)
)

func (r *VectorRepository) ident() string {
	return pgx.Identifier{r.table}.Sanitize()
}

// Name はバックエンド名を返す
func (r *VectorRepository) Name() string {
	return "pgvector"
}

// Publish は Replace の別名（ingestion.Publisher の実装）
func (r *VectorRepository) Publish(ctx context.Context, store *index.Store) error {
	return r.Replace(ctx, store)
}

// Replace はテーブルを作り直し、store の全チャンクとベクトルを1トランザクションで書き込む
// 次元が変わる可能性があるため毎回テーブルを再作成する
func (r *VectorRepository) Replace(ctx context.Context, store *index.Store) error {
	n := store.Index.Len()
	if n == 0 {
		return index.ErrEmptyIndex
	}
	if n != len(store.Chunks) {
		return fmt.Errorf("%w: %d vectors but %d chunks", index.ErrCorruptIndex, n, len(store.Chunks))
	}

	_, err := database.Transact(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		// 同じテーブルへの公開を直列化する
		if err := database.AcquireXactLock(ctx, tx, database.LockID("publish", r.table)); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, r.replaceRows(ctx, tx, store)
	})
	if err != nil {
		return err
	}

	r.logger.Info("Replaced pgvector table", "table", r.table, "rows", n, "dimension", store.Index.Dimension())
	return nil
}

func (r *VectorRepository) replaceRows(ctx context.Context, tx pgx.Tx, store *index.Store) error {
	n := store.Index.Len()
	table := r.ident()
	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	createSQL := fmt.Sprintf(`CREATE TABLE %s (
	position        integer PRIMARY KEY,
	chunk_id        integer NOT NULL,
	title           text    NOT NULL,
	content         text    NOT NULL,
	source          text    NOT NULL,
	tags            text[]  NOT NULL,
	embedding       vector(%d) NOT NULL,
	embedding_model text    NOT NULL,
	build_id        text    NOT NULL
)`, table, store.Index.Dimension())
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	model := store.Meta.EmbeddingModel
	buildID := store.Meta.BuildID.String()
	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{r.table},
		[]string{"position", "chunk_id", "title", "content", "source", "tags", "embedding", "embedding_model", "build_id"},
		pgx.CopyFromSlice(n, func(i int) ([]any, error) {
			c := store.Chunks[i]
			tags := c.Tags
			if tags == nil {
				tags = []string{}
			}
			return []any{
				i,
				c.ChunkID,
				c.Title,
				c.Content,
				c.Source,
				tags,
				pgvector.NewVector(store.Index.Vector(i)),
				model,
				buildID,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}
	if int(copied) != n {
		return fmt.Errorf("copied %d rows, expected %d", copied, n)
	}
	return nil
}

// LoadChunks は position 順にチャンクメタデータを返す
func (r *VectorRepository) LoadChunks(ctx context.Context) ([]document.Chunk, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		"SELECT position, title, content, source, chunk_id, tags FROM %s ORDER BY position", r.ident(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []document.Chunk
	for rows.Next() {
		var (
			position int
			c        document.Chunk
		)
		if err := rows.Scan(&position, &c.Title, &c.Content, &c.Source, &c.ChunkID, &c.Tags); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if position != len(chunks) {
			return nil, fmt.Errorf("%w: position gap at %d", index.ErrCorruptIndex, position)
		}
		if c.Tags == nil {
			c.Tags = []string{}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, index.ErrEmptyIndex
	}

	return chunks, nil
}

// Search は内積の大きい順に最大 topK 件の位置とスコアを返す
// クエリは正規化済みであること
func (r *VectorRepository) Search(ctx context.Context, query []float32, topK int) ([]index.Hit, error) {
	if topK <= 0 {
		return []index.Hit{}, nil
	}

	// <#> は負の内積を返す
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		"SELECT position, -(embedding <#> $1) AS score FROM %s ORDER BY embedding <#> $1, position LIMIT $2", r.ident(),
	), pgvector.NewVector(query), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	hits := make([]index.Hit, 0, topK)
	for rows.Next() {
		var (
			position int
			score    float64
		)
		if err := rows.Scan(&position, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		hits = append(hits, index.Hit{Position: position, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	return hits, nil
}
