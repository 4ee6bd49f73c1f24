package intent

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// CorpusStore provides read access to the pre-built pattern corpus.
// The corpus lives in a SQLite database with a vec0 virtual table for
// nearest neighbour search and a plain table holding each pattern's
// intent and full-precision embedding.
type CorpusStore struct {
	db *sql.DB
}

// OpenCorpus opens an existing corpus database in read-only mode.
func OpenCorpus(path string) (*CorpusStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("intent: open corpus: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("intent: corpus unreachable: %w", err)
	}
	return &CorpusStore{db: db}, nil
}

func (s *CorpusStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Search returns the topK nearest patterns to the query embedding,
// ordered by ascending cosine distance. Each match carries the
// pattern's original embedding so the caller can rescore candidates
// at full precision.
func (s *CorpusStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	queryBlob := encodeFloat32SliceToBlob(queryEmbedding)

	query := `
		SELECT
			p.intent,
			p.pattern,
			p.embedding,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_patterns v
		JOIN patterns p ON p.id = v.rowid
		ORDER BY distance ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, queryBlob, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrVectorSearch, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var blob []byte
		var distance float64
		if err := rows.Scan(&m.Intent, &m.Pattern, &blob, &distance); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrVectorSearch, err)
		}
		m.Embedding = decodeFloat32Blob(blob)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrVectorSearch, err)
	}
	return matches, nil
}

// CorpusBuilder writes a new corpus database. It is used by the
// offline build command and by tests.
type CorpusBuilder struct {
	db  *sql.DB
	dim int
}

// NewCorpusBuilder creates (or truncates) a corpus database at path for
// embeddings of the given dimension.
func NewCorpusBuilder(path string, dim int) (*CorpusBuilder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("intent: invalid embedding dimension %d", dim)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("intent: open corpus for build: %w", err)
	}

	stmts := []string{
		`DROP TABLE IF EXISTS patterns`,
		`DROP TABLE IF EXISTS vec_patterns`,
		`CREATE TABLE patterns (
			id INTEGER PRIMARY KEY,
			intent TEXT NOT NULL,
			pattern TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE vec_patterns USING vec0(embedding float[%d])`, dim),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("intent: corpus schema: %w", err)
		}
	}
	return &CorpusBuilder{db: db, dim: dim}, nil
}

// AddPattern inserts one pattern and its embedding into both tables
// under the same rowid.
func (b *CorpusBuilder) AddPattern(intentName, pattern string, embedding []float32) error {
	if len(embedding) != b.dim {
		return fmt.Errorf("intent: embedding dimension %d does not match corpus dimension %d", len(embedding), b.dim)
	}

	res, err := b.db.Exec(
		`INSERT INTO patterns (intent, pattern, embedding) VALUES (?, ?, ?)`,
		intentName, pattern, encodeFloat32SliceToBlob(embedding),
	)
	if err != nil {
		return fmt.Errorf("intent: insert pattern: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("intent: pattern rowid: %w", err)
	}
	if _, err := b.db.Exec(
		`INSERT INTO vec_patterns (rowid, embedding) VALUES (?, ?)`,
		rowID, encodeFloat32SliceToBlob(embedding),
	); err != nil {
		return fmt.Errorf("intent: insert vector: %w", err)
	}
	return nil
}

func (b *CorpusBuilder) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// encodeFloat32SliceToBlob encodes a float32 slice as the little-endian
// binary blob sqlite-vec expects.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

func decodeFloat32Blob(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil
	}
	return vec
}
