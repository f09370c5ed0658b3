package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS content_items (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	content_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	published_at INTEGER,
	fetched_at INTEGER NOT NULL,
	authenticity INTEGER NOT NULL DEFAULT 0,
	signals TEXT NOT NULL DEFAULT '{}',
	metadata TEXT NOT NULL DEFAULT '{}',
	processed INTEGER NOT NULL DEFAULT 0,
	embedded INTEGER NOT NULL DEFAULT 0,
	stored_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_subject ON content_items(subject_id, platform);
CREATE INDEX IF NOT EXISTS idx_items_processed ON content_items(processed);
CREATE INDEX IF NOT EXISTS idx_items_published ON content_items(published_at DESC);

CREATE TABLE IF NOT EXISTS content_chunks (
	id TEXT PRIMARY KEY,
	content_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	embedding BLOB,
	FOREIGN KEY (content_id) REFERENCES content_items(id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_content ON content_chunks(content_id);
`

var itemColumns = []string{
	"id", "subject_id", "platform", "content_type", "title", "body", "url", "author",
	"published_at", "fetched_at", "authenticity", "signals", "metadata", "processed", "embedded", "stored_at",
}

// SQLiteRepository persists accepted content items and their chunks into SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ ports.ContentRepository = (*SQLiteRepository)(nil)
	_ ports.ChunkStore        = (*SQLiteRepository)(nil)
)

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writers serialized and in-memory databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	repo := NewSQLiteRepository(db)
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLiteRepository wires an already opened sql.DB.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Store upserts the items. Re-storing an item refreshes its content and score; processing flags
// survive unless the body changed, in which case the item is pending again.
func (r *SQLiteRepository) Store(ctx context.Context, items []domain.ContentItem) error {
	if r.db == nil || len(items) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store: %w", err)
	}
	defer tx.Rollback()

	storedAt := r.now().UTC().UnixMilli()
	for _, item := range items {
		signals, metadata, err := encodeItemJSON(item)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", item.ID, err)
		}

		_, err = sq.Insert("content_items").
			Columns(itemColumns...).
			Values(
				item.ID, item.SubjectID, string(item.Platform), string(item.ContentType),
				item.Title, item.Body, item.URL, item.Author,
				nullableMillis(item.PublishedAt), item.FetchedAt.UTC().UnixMilli(),
				item.Score(), signals, metadata, 0, 0, storedAt,
			).
			Suffix(`ON CONFLICT(id) DO UPDATE SET
				processed = CASE WHEN excluded.body <> body THEN 0 ELSE processed END,
				embedded = CASE WHEN excluded.body <> body THEN 0 ELSE embedded END,
				title = excluded.title,
				body = excluded.body,
				url = excluded.url,
				author = excluded.author,
				published_at = excluded.published_at,
				fetched_at = excluded.fetched_at,
				authenticity = excluded.authenticity,
				signals = excluded.signals,
				metadata = excluded.metadata`).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("upsert item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store: %w", err)
	}
	return nil
}

// ListItems returns stored items matching filter, newest publication first.
func (r *SQLiteRepository) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.StoredItem, error) {
	query := sq.Select(itemColumns...).From("content_items").
		OrderBy("published_at IS NULL", "published_at DESC", "stored_at DESC")

	if filter.SubjectID != "" {
		query = query.Where(sq.Eq{"subject_id": filter.SubjectID})
	}
	if filter.Platform != "" {
		query = query.Where(sq.Eq{"platform": string(filter.Platform)})
	}
	if filter.OnlyPending {
		query = query.Where(sq.Eq{"processed": 0})
	}
	if filter.MinScore > 0 {
		query = query.Where(sq.GtOrEq{"authenticity": filter.MinScore})
	}
	if filter.PublishedFrom != nil {
		query = query.Where(sq.GtOrEq{"published_at": filter.PublishedFrom.UTC().UnixMilli()})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.StoredItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

// MarkProcessed flags an item as chunked and optionally embedded.
func (r *SQLiteRepository) MarkProcessed(ctx context.Context, id string, embedded bool) error {
	res, err := sq.Update("content_items").
		Set("processed", 1).
		Set("embedded", boolToInt(embedded)).
		Where(sq.Eq{"id": id}).
		RunWith(r.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark processed %s: item not stored", id)
	}
	return nil
}

// Stats summarizes the stored corpus.
func (r *SQLiteRepository) Stats(ctx context.Context) (domain.RepositoryStats, error) {
	stats := domain.RepositoryStats{
		BySubject:  map[string]int{},
		ByPlatform: map[domain.Platform]int{},
	}

	err := sq.Select("COUNT(*)", "COALESCE(SUM(processed), 0)", "COALESCE(SUM(embedded), 0)").
		From("content_items").
		RunWith(r.db).
		QueryRowContext(ctx).
		Scan(&stats.Total, &stats.Processed, &stats.Embedded)
	if err != nil {
		return stats, fmt.Errorf("count items: %w", err)
	}

	err = sq.Select("COUNT(*)").From("content_chunks").
		RunWith(r.db).
		QueryRowContext(ctx).
		Scan(&stats.Chunks)
	if err != nil {
		return stats, fmt.Errorf("count chunks: %w", err)
	}

	if err := r.groupCount(ctx, "subject_id", func(key string, n int) { stats.BySubject[key] = n }); err != nil {
		return stats, err
	}
	if err := r.groupCount(ctx, "platform", func(key string, n int) { stats.ByPlatform[domain.Platform(key)] = n }); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *SQLiteRepository) groupCount(ctx context.Context, column string, add func(string, int)) error {
	rows, err := sq.Select(column, "COUNT(*)").
		From("content_items").
		GroupBy(column).
		RunWith(r.db).
		QueryContext(ctx)
	if err != nil {
		return fmt.Errorf("group by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		add(key, n)
	}
	return rows.Err()
}

// SaveChunks replaces the chunks of the items they belong to.
func (r *SQLiteRepository) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunks: %w", err)
	}
	defer tx.Rollback()

	cleared := map[string]bool{}
	for _, c := range chunks {
		if !cleared[c.ContentID] {
			if _, err := sq.Delete("content_chunks").Where(sq.Eq{"content_id": c.ContentID}).RunWith(tx).ExecContext(ctx); err != nil {
				return fmt.Errorf("clear chunks of %s: %w", c.ContentID, err)
			}
			cleared[c.ContentID] = true
		}

		_, err := sq.Insert("content_chunks").
			Columns("id", "content_id", "chunk_index", "text", "embedding").
			Values(c.ID, c.ContentID, c.Index, c.Text, encodeVector(c.Embedding)).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

// Chunks returns the stored chunks of one item in order.
func (r *SQLiteRepository) Chunks(ctx context.Context, contentID string) ([]domain.Chunk, error) {
	rows, err := sq.Select("id", "content_id", "chunk_index", "text", "embedding").
		From("content_chunks").
		Where(sq.Eq{"content_id": contentID}).
		OrderBy("chunk_index").
		RunWith(r.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var (
			c    domain.Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.ContentID, &c.Index, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = decodeVector(blob)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanItem(rows *sql.Rows) (domain.StoredItem, error) {
	var (
		item                domain.StoredItem
		platform, ctype     string
		published           sql.NullInt64
		fetched, stored     int64
		score               int
		signals, metadata   string
		processed, embedded int
	)
	err := rows.Scan(
		&item.ID, &item.SubjectID, &platform, &ctype, &item.Title, &item.Body, &item.URL, &item.Author,
		&published, &fetched, &score, &signals, &metadata, &processed, &embedded, &stored,
	)
	if err != nil {
		return item, err
	}

	item.Platform = domain.Platform(platform)
	item.ContentType = domain.ContentType(ctype)
	if published.Valid {
		t := time.UnixMilli(published.Int64).UTC()
		item.PublishedAt = &t
	}
	item.FetchedAt = time.UnixMilli(fetched).UTC()
	item.StoredAt = time.UnixMilli(stored).UTC()
	item.Processed = processed != 0
	item.Embedded = embedded != 0

	auth := &domain.AuthenticityScore{Total: score}
	if err := json.Unmarshal([]byte(signals), &auth.Signals); err != nil {
		return item, fmt.Errorf("decode signals: %w", err)
	}
	item.Authenticity = auth
	if err := json.Unmarshal([]byte(metadata), &item.RawMetadata); err != nil {
		return item, fmt.Errorf("decode metadata: %w", err)
	}
	return item, nil
}

func encodeItemJSON(item domain.ContentItem) (string, string, error) {
	signals := map[string]int{}
	if item.Authenticity != nil && item.Authenticity.Signals != nil {
		signals = item.Authenticity.Signals
	}
	s, err := json.Marshal(signals)
	if err != nil {
		return "", "", err
	}

	meta := item.RawMetadata
	if meta == nil {
		meta = map[string]any{}
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return "", "", err
	}
	return string(s), string(m), nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
