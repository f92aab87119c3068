package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// EmbeddingDim is the feature width of the vision encoder (the LLaVA 1.6
// vision tower). The schema pins it, so archives indexed here must match.
const EmbeddingDim = 1024

// Store manages the PostgreSQL connection and pgvector operations for
// indexed frame embeddings.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is
// initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to register vector types: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS chunk_metadata (
			id TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			frame_count INT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS frame_embeddings (
			id BIGSERIAL PRIMARY KEY,
			chunk_id TEXT REFERENCES chunk_metadata(id),
			frame_index INT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			UNIQUE (chunk_id, frame_index)
		);
		CREATE INDEX IF NOT EXISTS frame_embeddings_embedding_idx ON frame_embeddings USING hnsw (embedding vector_cosine_ops);
	`, EmbeddingDim)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureChunkMetadata registers a chunk, clearing any embeddings from a
// previous indexing run so re-indexing stays idempotent.
func (s *Store) EnsureChunkMetadata(ctx context.Context, chunkID, sourcePath string, frameCount int) error {
	if _, err := s.conn.Exec(ctx, "DELETE FROM frame_embeddings WHERE chunk_id = $1", chunkID); err != nil {
		return err
	}

	_, err := s.conn.Exec(ctx, `
		INSERT INTO chunk_metadata (id, source_path, frame_count, indexed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), source_path = EXCLUDED.source_path, frame_count = EXCLUDED.frame_count
	`, chunkID, sourcePath, frameCount)
	return err
}

// InsertEmbedding saves one frame's embedding vector.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID string, frameIndex int, vec []float32) error {
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("vector width %d, schema expects %d", len(vec), EmbeddingDim)
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO frame_embeddings (chunk_id, frame_index, embedding)
		VALUES ($1, $2, $3)
	`, chunkID, frameIndex, pgvector.NewVector(vec))
	return err
}

// GetEmbedding fetches the stored vector for one frame.
func (s *Store) GetEmbedding(ctx context.Context, chunkID string, frameIndex int) ([]float32, error) {
	var v pgvector.Vector
	err := s.conn.QueryRow(ctx, `
		SELECT embedding FROM frame_embeddings WHERE chunk_id = $1 AND frame_index = $2
	`, chunkID, frameIndex).Scan(&v)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no embedding indexed for %s frame %d", chunkID, frameIndex)
	}
	if err != nil {
		return nil, err
	}
	return v.Slice(), nil
}

// FrameMatch is one nearest-neighbor search hit.
type FrameMatch struct {
	ChunkID    string
	FrameIndex int
	Distance   float64
}

// SimilarFrames returns the limit nearest frames to vec by cosine distance,
// nearest first. <=> is the pgvector cosine distance operator.
func (s *Store) SimilarFrames(ctx context.Context, vec []float32, limit int) ([]FrameMatch, error) {
	if len(vec) != EmbeddingDim {
		return nil, fmt.Errorf("vector width %d, schema expects %d", len(vec), EmbeddingDim)
	}
	rows, err := s.conn.Query(ctx, `
		SELECT chunk_id, frame_index, embedding <=> $1 AS distance
		FROM frame_embeddings
		ORDER BY embedding <=> $1 ASC
		LIMIT $2
	`, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []FrameMatch
	for rows.Next() {
		var m FrameMatch
		if err := rows.Scan(&m.ChunkID, &m.FrameIndex, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ChunkInfo summarizes one indexed chunk.
type ChunkInfo struct {
	ID         string
	SourcePath string
	FrameCount int
	Indexed    int // embeddings actually stored (valid frames only)
	IndexedAt  time.Time
}

// ListChunks returns every indexed chunk with its stored embedding count.
func (s *Store) ListChunks(ctx context.Context) ([]ChunkInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.id, c.source_path, c.frame_count, COUNT(e.id), c.indexed_at
		FROM chunk_metadata c
		LEFT JOIN frame_embeddings e ON e.chunk_id = c.id
		GROUP BY c.id, c.source_path, c.frame_count, c.indexed_at
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []ChunkInfo
	for rows.Next() {
		var c ChunkInfo
		if err := rows.Scan(&c.ID, &c.SourcePath, &c.FrameCount, &c.Indexed, &c.IndexedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frame_embeddings CASCADE;
		DROP TABLE IF EXISTS chunk_metadata CASCADE;
	`)
	return err
}
