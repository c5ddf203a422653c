package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hsn0918/bookrag/pkg/chunking"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// Postgres is the pgvector-backed Store. Embedding kNN runs in the
// database; segment texts are mirrored into an in-process Memory on open so
// lexical scoring and parent lookup keep semantics identical to the memory
// backend.
type Postgres struct {
	pool *pgxpool.Pool
	mem  *Memory
	dims int
}

var _ Store = (*Postgres)(nil)

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS book_documents (
	name         TEXT PRIMARY KEY,
	bytes        BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	ingested_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS book_parents (
	id            TEXT PRIMARY KEY,
	parent_index  INTEGER NOT NULL,
	content       TEXT NOT NULL,
	item_id       TEXT NOT NULL DEFAULT '',
	item_label    TEXT NOT NULL DEFAULT '',
	chapter_id    TEXT NOT NULL DEFAULT '',
	chapter_label TEXT NOT NULL DEFAULT '',
	section_id    TEXT NOT NULL DEFAULT '',
	section_label TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS book_children (
	id          TEXT PRIMARY KEY,
	parent_id   TEXT NOT NULL REFERENCES book_parents(id) ON DELETE CASCADE,
	child_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   vector(%d) NOT NULL,
	UNIQUE(parent_id, child_index)
);
`

// NewPostgres connects, prepares the schema for the configured embedding
// dimension, and mirrors any previously ingested document into memory.
func NewPostgres(ctx context.Context, dsn string, dimensions int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(pgSchema, dimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("prepare schema: %w", err)
	}

	p := &Postgres{pool: pool, mem: NewMemory(), dims: dimensions}
	if err := p.warm(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

// warm mirrors the stored segments into the in-process Memory. An empty
// database leaves the store not ready; ingestion fills both sides.
func (p *Postgres) warm(ctx context.Context) error {
	var doc Document
	err := p.pool.QueryRow(ctx,
		`SELECT name, bytes, content_type, ingested_at FROM book_documents LIMIT 1`).
		Scan(&doc.Name, &doc.Bytes, &doc.ContentType, &doc.IngestedAt)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read document record: %w", err)
	}

	parents, err := p.readParents(ctx)
	if err != nil {
		return err
	}
	children, embeddings, err := p.readChildren(ctx, parents)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}
	if err := p.mem.Ingest(doc, parents, children, embeddings); err != nil {
		return fmt.Errorf("mirror postgres index: %w", err)
	}
	logger.Get().Info("postgres index mirrored into memory",
		slog.String("document", doc.Name),
		slog.Int("parents", len(parents)),
		slog.Int("children", len(children)),
	)
	return nil
}

func (p *Postgres) readParents(ctx context.Context) ([]chunking.Segment, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, parent_index, content,
		       item_id, item_label, chapter_id, chapter_label, section_id, section_label
		FROM book_parents ORDER BY parent_index`)
	if err != nil {
		return nil, fmt.Errorf("read parents: %w", err)
	}
	defer rows.Close()

	var parents []chunking.Segment
	for rows.Next() {
		var seg chunking.Segment
		md := &seg.Metadata
		if err := rows.Scan(&seg.ID, &md.ParentIndex, &seg.Text,
			&md.ItemID, &md.ItemLabel, &md.ChapterID, &md.ChapterLabel,
			&md.SectionID, &md.SectionLabel); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		seg.Kind = chunking.KindParent
		md.ParentID = seg.ID
		parents = append(parents, seg)
	}
	return parents, rows.Err()
}

func (p *Postgres) readChildren(ctx context.Context, parents []chunking.Segment) ([]chunking.Segment, [][]float32, error) {
	byID := make(map[string]*chunking.Segment, len(parents))
	for i := range parents {
		byID[parents[i].ID] = &parents[i]
	}

	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.parent_id, c.child_index, c.content, c.embedding
		FROM book_children c
		JOIN book_parents p ON p.id = c.parent_id
		ORDER BY p.parent_index, c.child_index`)
	if err != nil {
		return nil, nil, fmt.Errorf("read children: %w", err)
	}
	defer rows.Close()

	var children []chunking.Segment
	var embeddings [][]float32
	for rows.Next() {
		var seg chunking.Segment
		var parentID string
		var vec pgvector.Vector
		if err := rows.Scan(&seg.ID, &parentID, &seg.Metadata.ChildIndex, &seg.Text, &vec); err != nil {
			return nil, nil, fmt.Errorf("scan child: %w", err)
		}
		seg.Kind = chunking.KindChild
		if parent, ok := byID[parentID]; ok {
			idx := seg.Metadata.ChildIndex
			seg.Metadata = parent.Metadata
			seg.Metadata.ChildIndex = idx
		}
		seg.Metadata.ParentID = parentID
		children = append(children, seg)
		embeddings = append(embeddings, vec.Slice())
	}
	return children, embeddings, rows.Err()
}

// Ingest replaces the stored document wholesale inside one transaction and
// refreshes the in-memory mirror.
func (p *Postgres) Ingest(doc Document, parents, children []chunking.Segment, embeddings [][]float32) error {
	if len(children) != len(embeddings) {
		return fmt.Errorf("%w: %d children, %d embeddings", ErrLengthMismatch, len(children), len(embeddings))
	}

	ctx := context.Background()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"book_children", "book_parents", "book_documents"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO book_documents (name, bytes, content_type) VALUES ($1, $2, $3)`,
		doc.Name, doc.Bytes, doc.ContentType); err != nil {
		return fmt.Errorf("store document record: %w", err)
	}
	for _, seg := range parents {
		md := seg.Metadata
		if _, err := tx.Exec(ctx, `
			INSERT INTO book_parents
				(id, parent_index, content, item_id, item_label,
				 chapter_id, chapter_label, section_id, section_label)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			seg.ID, md.ParentIndex, seg.Text, md.ItemID, md.ItemLabel,
			md.ChapterID, md.ChapterLabel, md.SectionID, md.SectionLabel); err != nil {
			return fmt.Errorf("store parent %s: %w", seg.ID, err)
		}
	}
	for i, seg := range children {
		if _, err := tx.Exec(ctx, `
			INSERT INTO book_children (id, parent_id, child_index, content, embedding)
			VALUES ($1,$2,$3,$4,$5)`,
			seg.ID, seg.Metadata.ParentID, seg.Metadata.ChildIndex, seg.Text,
			pgvector.NewVector(embeddings[i])); err != nil {
			return fmt.Errorf("store child %s: %w", seg.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}

	return p.mem.Ingest(doc, parents, children, embeddings)
}

// VectorSearch runs cosine kNN in the database and maps hits back onto the
// mirrored segments.
func (p *Postgres) VectorSearch(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if !p.mem.Ready() {
		return nil, ErrNotReady
	}
	if len(query) == 0 {
		return nil, ErrEmptyQuery
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, 1 - (embedding <=> $1) AS similarity
		FROM book_children
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	segByID := make(map[string]*chunking.Segment, len(p.mem.children))
	for i := range p.mem.children {
		segByID[p.mem.children[i].ID] = &p.mem.children[i]
	}

	var results []SearchResult
	for rows.Next() {
		var id string
		var sim float64
		if err := rows.Scan(&id, &sim); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		seg, ok := segByID[id]
		if !ok {
			continue
		}
		if sim < 0 {
			sim = 0
		}
		results = append(results, SearchResult{Segment: seg, Score: sim})
	}
	return results, rows.Err()
}

// LexicalSearch delegates to the in-memory mirror.
func (p *Postgres) LexicalSearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return p.mem.LexicalSearch(ctx, query, k)
}

// ParentOf delegates to the in-memory mirror.
func (p *Postgres) ParentOf(child *chunking.Segment) *chunking.Segment {
	return p.mem.ParentOf(child)
}

// Children exposes the mirrored child segments.
func (p *Postgres) Children() []chunking.Segment { return p.mem.Children() }

// Document returns the ingested document record.
func (p *Postgres) Document() Document { return p.mem.Document() }

// Ready reports whether a document has been ingested.
func (p *Postgres) Ready() bool { return p.mem.Ready() }
