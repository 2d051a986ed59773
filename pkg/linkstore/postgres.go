package linkstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOptions names the source tables of [LoadPostgres].
type PostgresOptions struct {
	// LinksTable has columns (page_id bigint, link_sequence bigint[]).
	LinksTable string
	// PagesTable has columns (page_id, title, namespace, is_redirect).
	// Empty skips the page table.
	PagesTable string
	// Namespace restricts pages to one namespace when non-nil.
	Namespace *int
}

// DefaultPostgresOptions returns the conventional table names.
func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{LinksTable: "page_links", PagesTable: "pages"}
}

// LoadPostgres reads the link-sequence and page tables from Postgres into a
// MemoryStore. Rows are streamed, so the only memory held is the store itself.
func LoadPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*MemoryStore, error) {
	if opts.LinksTable == "" {
		opts.LinksTable = DefaultPostgresOptions().LinksTable
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	s := NewMemoryStore()
	if err := loadLinkRows(ctx, pool, s, opts.LinksTable); err != nil {
		return nil, err
	}
	if opts.PagesTable != "" {
		if err := loadPageRows(ctx, pool, s, opts.PagesTable, opts.Namespace); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func loadLinkRows(ctx context.Context, pool *pgxpool.Pool, s *MemoryStore, table string) error {
	q := fmt.Sprintf("SELECT page_id, link_sequence FROM %s ORDER BY page_id",
		pgx.Identifier{table}.Sanitize())
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			links []int64
		)
		if err := rows.Scan(&id, &links); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		seq := make([]NodeID, len(links))
		for i, l := range links {
			seq[i] = NodeID(l)
		}
		if err := s.Put(NodeID(id), seq); err != nil {
			return fmt.Errorf("%s: page %d: %w", table, id, err)
		}
	}
	return rows.Err()
}

func loadPageRows(ctx context.Context, pool *pgxpool.Pool, s *MemoryStore, table string, ns *int) error {
	q := fmt.Sprintf("SELECT page_id, title, namespace, is_redirect FROM %s",
		pgx.Identifier{table}.Sanitize())
	var args []any
	if ns != nil {
		q += " WHERE namespace = $1"
		args = append(args, *ns)
	}
	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Page
		var id int64
		if err := rows.Scan(&id, &p.Title, &p.Namespace, &p.IsRedirect); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		p.ID = NodeID(id)
		s.AddPage(p)
	}
	return rows.Err()
}
