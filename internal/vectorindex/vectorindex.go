// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package vectorindex is the single-file C3c vector index: a sqlite
// table of (chunk, vector) rows with application-level cosine scoring,
// chosen over sqlite-vec's native vec0/MATCH KNN operator because
// spec.md 4.6 requires a configurable candidate cap and document-set
// filtering at the application layer rather than inside the virtual
// table's own query planner.
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Row is a persisted (chunk, vector) entry.
type Row struct {
	ChunkID    string
	DocumentID string
	ChunkText  string
	ChunkIndex int
	Metadata   map[string]string
	Vector     []float32
	CreatedAt  time.Time
}

// Match is a search result: a row plus its similarity score.
type Match struct {
	Row
	Score float32
}

// Stats summarizes the index contents.
type Stats struct {
	ChunkCount    int
	DocumentCount int
	Dimensions    int
	ProviderTag   string
}

// DocumentInfo is a diagnostic accessor result.
type DocumentInfo struct {
	DocumentID string
	ChunkCount int
	CreatedAt  time.Time
}

// Index is the sqlite-backed C3c vector index. D is fixed at table
// creation time (the active embedder's dimension) and later Upserts
// with a mismatched vector length fail that batch rather than
// migrating the table, per the Open Question decision in DESIGN.md.
type Index struct {
	db             *sql.DB
	dimensions     int
	providerTag    string
	candidateCap   int
	onCapTruncated func(loaded, total int)
}

// Options configures Open.
type Options struct {
	// CandidateCap bounds how many rows Search loads before scoring.
	// Zero means no cap (load all matching rows, as the source does).
	CandidateCap int
	// OnCapTruncated, if set, is called when the candidate cap actually
	// truncates a search's candidate set.
	OnCapTruncated func(loaded, total int)
}

// Open creates (if needed) the embeddings.db file at path and returns
// an Index bound to the given embedder dimension and provider tag.
// If the table already exists with a different dimension, Open
// returns the dimension actually on disk rather than erroring, so
// callers can detect a provider change before writing (Open Question
// #2 in DESIGN.md).
func Open(path string, dimensions int, providerTag string, opts Options) (*Index, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating vector index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening vector index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector index database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vector index schema: %w", err)
	}

	idx := &Index{db: db, dimensions: dimensions, providerTag: providerTag, candidateCap: opts.CandidateCap, onCapTruncated: opts.OnCapTruncated}

	existingDim, existingTag, err := idx.readMetadata(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	if existingDim == 0 {
		if err := idx.writeMetadata(context.Background(), dimensions, providerTag); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		idx.dimensions = existingDim
		idx.providerTag = existingTag
	}

	return idx, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

// Dimensions returns the dimension this index is fixed to.
func (idx *Index) Dimensions() int {
	return idx.dimensions
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS vector_rows (
	chunk_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	chunk_text TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	metadata_blob TEXT,
	vector_blob BLOB NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vector_rows_document ON vector_rows(document_id);

CREATE TABLE IF NOT EXISTS index_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (idx *Index) readMetadata(ctx context.Context) (dimensions int, providerTag string, err error) {
	row := idx.db.QueryRowContext(ctx, "SELECT value FROM index_metadata WHERE key = 'dimensions'")
	var dimStr string
	if err := row.Scan(&dimStr); err == sql.ErrNoRows {
		return 0, "", nil
	} else if err != nil {
		return 0, "", fmt.Errorf("reading index dimensions: %w", err)
	}
	fmt.Sscanf(dimStr, "%d", &dimensions)

	row = idx.db.QueryRowContext(ctx, "SELECT value FROM index_metadata WHERE key = 'provider_tag'")
	row.Scan(&providerTag)

	return dimensions, providerTag, nil
}

func (idx *Index) writeMetadata(ctx context.Context, dimensions int, providerTag string) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO index_metadata (key, value) VALUES ('dimensions', ?), ('provider_tag', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", dimensions), providerTag)
	if err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}
	return nil
}

// Upsert inserts or replaces rows keyed by chunk_id. Every vector in
// the batch must have length D; a mismatch fails the whole batch.
func (idx *Index) Upsert(ctx context.Context, rows []Row) error {
	for _, r := range rows {
		if len(r.Vector) != idx.dimensions {
			return fmt.Errorf("vector for chunk %s has length %d, expected %d", r.ChunkID, len(r.Vector), idx.dimensions)
		}
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_rows (chunk_id, document_id, chunk_text, chunk_index, metadata_blob, vector_blob, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			chunk_text = excluded.chunk_text,
			chunk_index = excluded.chunk_index,
			metadata_blob = excluded.metadata_blob,
			vector_blob = excluded.vector_blob`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %s: %w", r.ChunkID, err)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.ChunkID, r.DocumentID, r.ChunkText, r.ChunkIndex,
			string(metaJSON), serializeVector(r.Vector), createdAt); err != nil {
			return fmt.Errorf("upserting chunk %s: %w", r.ChunkID, err)
		}
	}

	return tx.Commit()
}

// Delete removes all rows for document_id, returning the number of
// rows removed.
func (idx *Index) Delete(ctx context.Context, documentID string) (int, error) {
	res, err := idx.db.ExecContext(ctx, "DELETE FROM vector_rows WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Search embeds query via the caller-supplied vector, loads candidate
// rows (optionally filtered to filterDocumentIDs and capped at
// CandidateCap), scores them by cosine similarity, and returns the
// top k ordered by descending score with ties broken by ascending
// (document_id, chunk_index).
func (idx *Index) Search(ctx context.Context, queryVector []float32, k int, filterDocumentIDs []string) ([]Match, error) {
	query := "SELECT chunk_id, document_id, chunk_text, chunk_index, metadata_blob, vector_blob, created_at FROM vector_rows"
	countQuery := "SELECT COUNT(*) FROM vector_rows"
	var args []any

	if len(filterDocumentIDs) > 0 {
		placeholders := make([]string, len(filterDocumentIDs))
		for i, id := range filterDocumentIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where := " WHERE document_id IN (" + joinPlaceholders(placeholders) + ")"
		query += where
		countQuery += where
	}

	var totalCandidates int
	if err := idx.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCandidates); err != nil {
		return nil, fmt.Errorf("counting candidate rows: %w", err)
	}

	if idx.candidateCap > 0 {
		query += fmt.Sprintf(" LIMIT %d", idx.candidateCap)
	}

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading search candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Row
	for rows.Next() {
		var r Row
		var metaJSON string
		var vectorBlob []byte
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.ChunkText, &r.ChunkIndex, &metaJSON, &vectorBlob, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &r.Metadata)
		}
		r.Vector = deserializeVector(vectorBlob)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if idx.candidateCap > 0 && len(candidates) < totalCandidates && idx.onCapTruncated != nil {
		idx.onCapTruncated(len(candidates), totalCandidates)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, Match{Row: c, Score: cosineSimilarity(queryVector, c.Vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].DocumentID != matches[j].DocumentID {
			return matches[i].DocumentID < matches[j].DocumentID
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}

	return matches, nil
}

// Stats returns index-wide counters.
func (idx *Index) Stats(ctx context.Context) (*Stats, error) {
	var chunkCount, documentCount int
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vector_rows").Scan(&chunkCount); err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT document_id) FROM vector_rows").Scan(&documentCount); err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	return &Stats{
		ChunkCount:    chunkCount,
		DocumentCount: documentCount,
		Dimensions:    idx.dimensions,
		ProviderTag:   idx.providerTag,
	}, nil
}

// ListDocuments returns per-document chunk counts and earliest row
// creation timestamp.
func (idx *Index) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT document_id, COUNT(*), MIN(created_at) FROM vector_rows GROUP BY document_id ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var infos []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		if err := rows.Scan(&info.DocumentID, &info.ChunkCount, &info.CreatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// GetDocumentInfo returns chunk count and creation info for one document.
func (idx *Index) GetDocumentInfo(ctx context.Context, documentID string) (*DocumentInfo, error) {
	var info DocumentInfo
	var createdAt sql.NullTime
	info.DocumentID = documentID
	err := idx.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at) FROM vector_rows WHERE document_id = ?`, documentID).
		Scan(&info.ChunkCount, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting document info for %s: %w", documentID, err)
	}
	if info.ChunkCount == 0 {
		return nil, nil
	}
	info.CreatedAt = createdAt.Time
	return &info, nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||) with defensive
// zero-norm and mismatched-length handling, both of which return 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func serializeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func joinPlaceholders(placeholders []string) string {
	out := ""
	for i, p := range placeholders {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
