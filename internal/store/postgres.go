package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/spirits-cli/internal/db"
	"github.com/sells-group/spirits-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const productColumns = `id, name, COALESCE(brand_id, ''), product_type, COALESCE(category, ''),
	abv, age_statement, volume_ml, COALESCE(country, ''), COALESCE(region, ''),
	COALESCE(description, ''), status, completeness_score, ecp_total, enrichment_completion,
	COALESCE(source_url, ''), COALESCE(discovery_source, ''), source_count, verified_fields,
	fingerprint, data, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_product":        `SELECT ` + productColumns + ` FROM products WHERE id = $1`,
	"get_product_by_url": `SELECT ` + productColumns + ` FROM products WHERE source_url = $1 LIMIT 1`,
	"get_product_by_fp":  `SELECT ` + productColumns + ` FROM products WHERE fingerprint = $1 LIMIT 1`,
	"get_crawled_source": `SELECT url, COALESCE(title, ''), COALESCE(raw_content, ''), COALESCE(content_hash, ''), COALESCE(source_type, ''), extraction_status, COALESCE(last_error, ''), fetched_at FROM crawled_sources WHERE url = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used in tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS brands (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	producer   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                  TEXT NOT NULL,
	brand_id              TEXT REFERENCES brands(id),
	product_type          TEXT NOT NULL,
	category              TEXT,
	abv                   DOUBLE PRECISION,
	age_statement         INTEGER,
	volume_ml             INTEGER,
	country               TEXT,
	region                TEXT,
	description           TEXT,
	status                TEXT NOT NULL DEFAULT 'skeleton',
	completeness_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	ecp_total             DOUBLE PRECISION NOT NULL DEFAULT 0,
	enrichment_completion JSONB,
	source_url            TEXT,
	discovery_source      TEXT,
	source_count          INTEGER NOT NULL DEFAULT 1,
	verified_fields       JSONB NOT NULL DEFAULT '[]',
	fingerprint           TEXT NOT NULL UNIQUE,
	data                  JSONB NOT NULL DEFAULT '{}',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_products_ecp_total ON products(ecp_total);
CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);
CREATE INDEX IF NOT EXISTS idx_products_source_url ON products(source_url);
CREATE INDEX IF NOT EXISTS idx_products_name_lower ON products(lower(name) text_pattern_ops);
CREATE INDEX IF NOT EXISTS idx_products_type ON products(product_type);

CREATE TABLE IF NOT EXISTS whiskey_details (
	product_id TEXT PRIMARY KEY REFERENCES products(id),
	data       JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS port_wine_details (
	product_id TEXT PRIMARY KEY REFERENCES products(id),
	data       JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS awards (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id  TEXT NOT NULL REFERENCES products(id),
	competition TEXT NOT NULL,
	year        INTEGER NOT NULL DEFAULT 0,
	medal       TEXT,
	category    TEXT,
	score       DOUBLE PRECISION,
	UNIQUE (product_id, competition, year)
);

CREATE TABLE IF NOT EXISTS ratings (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id TEXT NOT NULL REFERENCES products(id),
	source     TEXT,
	score      DOUBLE PRECISION NOT NULL,
	max        DOUBLE PRECISION,
	reviewer   TEXT
);

CREATE TABLE IF NOT EXISTS images (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id TEXT NOT NULL REFERENCES products(id),
	url        TEXT NOT NULL,
	type       TEXT,
	UNIQUE (product_id, url)
);

CREATE TABLE IF NOT EXISTS product_sources (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id    TEXT NOT NULL REFERENCES products(id),
	url           TEXT NOT NULL,
	source_type   TEXT,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (product_id, url)
);

CREATE TABLE IF NOT EXISTS product_field_sources (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id TEXT NOT NULL REFERENCES products(id),
	url        TEXT NOT NULL,
	field      TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_field_sources_product ON product_field_sources(product_id);

CREATE TABLE IF NOT EXISTS crawled_sources (
	url               TEXT PRIMARY KEY,
	title             TEXT,
	raw_content       TEXT,
	content_hash      TEXT,
	source_type       TEXT,
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	last_error        TEXT,
	fetched_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_crawled_sources_fetched_at ON crawled_sources(fetched_at);

CREATE TABLE IF NOT EXISTS schedules (
	slug                TEXT PRIMARY KEY,
	category            TEXT NOT NULL,
	description         TEXT,
	frequency           TEXT NOT NULL,
	base_url            TEXT,
	terms               JSONB NOT NULL DEFAULT '[]',
	product_type_filter TEXT,
	enrich              BOOLEAN NOT NULL DEFAULT false,
	is_active           BOOLEAN NOT NULL DEFAULT true,
	next_run            TIMESTAMPTZ,
	last_run            TIMESTAMPTZ,
	total_runs          INTEGER NOT NULL DEFAULT 0,
	total_found         INTEGER NOT NULL DEFAULT 0,
	total_new           INTEGER NOT NULL DEFAULT 0,
	total_duplicate     INTEGER NOT NULL DEFAULT 0,
	total_verified      INTEGER NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run) WHERE is_active;

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id            TEXT PRIMARY KEY,
	schedule_slug TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	counters      JSONB NOT NULL DEFAULT '{}',
	error_message TEXT,
	cancelled     BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status);
CREATE INDEX IF NOT EXISTS idx_crawl_jobs_schedule ON crawl_jobs(schedule_slug);

CREATE TABLE IF NOT EXISTS discovery_results (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	term           TEXT,
	source_url     TEXT NOT NULL,
	source_domain  TEXT,
	title          TEXT,
	search_rank    INTEGER NOT NULL DEFAULT 0,
	extracted_data JSONB,
	success        BOOLEAN NOT NULL DEFAULT false,
	match_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	needs_review   BOOLEAN NOT NULL DEFAULT false,
	status         TEXT NOT NULL DEFAULT 'processing',
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_discovery_results_job ON discovery_results(job_id);
`

// Migrate creates the schema when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*model.Product, error) {
	var (
		p        model.Product
		ecpJSON  []byte
		verified []byte
		data     []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.BrandID, &p.ProductType, &p.Category,
		&p.ABV, &p.AgeStatement, &p.VolumeML, &p.Country, &p.Region,
		&p.Description, &p.Status, &p.CompletenessScore, &p.ECPTotal, &ecpJSON,
		&p.SourceURL, &p.DiscoverySource, &p.SourceCount, &verified,
		&p.Fingerprint, &data, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan product")
	}
	p.ECPByGroup = ecpJSON
	if len(verified) > 0 {
		if err := json.Unmarshal(verified, &p.VerifiedFields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal verified_fields")
		}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal product data")
		}
	}
	return &p, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *PostgresStore) GetProductBySourceURL(ctx context.Context, url string) (*model.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE source_url = $1 LIMIT 1`, url))
}

func (s *PostgresStore) GetProductByFingerprint(ctx context.Context, fingerprint string) (*model.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE fingerprint = $1 LIMIT 1`, fingerprint))
}

func (s *PostgresStore) collectProducts(rows pgx.Rows) ([]model.Product, error) {
	defer rows.Close()
	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate products")
	}
	return out, nil
}

// SearchProductsByNamePrefix returns candidates whose lowercased name
// contains the prefix, used by the fuzzy dedup pass.
func (s *PostgresStore) SearchProductsByNamePrefix(ctx context.Context, prefix string, productType model.ProductType, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(prefix) + "%"
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE lower(name) LIKE $1 AND product_type = $2 ORDER BY updated_at DESC LIMIT $3`,
		pattern, string(productType), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search products by name")
	}
	return s.collectProducts(rows)
}

func (s *PostgresStore) ListProductsByStatus(ctx context.Context, status model.ProductStatus, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products by status")
	}
	return s.collectProducts(rows)
}

// ListEnrichmentCandidates returns unfinished products, least complete
// first, for the enrichment queue.
func (s *PostgresStore) ListEnrichmentCandidates(ctx context.Context, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE status NOT IN ('complete', 'rejected') ORDER BY ecp_total ASC, updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichment candidates")
	}
	return s.collectProducts(rows)
}

func (s *PostgresStore) FindOrCreateBrand(ctx context.Context, slug, name string) (*model.Brand, error) {
	var b model.Brand
	err := s.pool.QueryRow(ctx, `INSERT INTO brands (slug, name)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, slug, name, COALESCE(producer, ''), created_at`,
		slug, name).Scan(&b.ID, &b.Slug, &b.Name, &b.Producer, &b.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find or create brand %s", slug)
	}
	return &b, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func orEmptyList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// WriteProduct applies one atomic product persist. Insert races on the
// fingerprint unique constraint surface as ErrDuplicate so the caller
// can retry on the update path.
func (s *PostgresStore) WriteProduct(ctx context.Context, w *ProductWrite) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin write")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	p := w.Product
	if w.BrandSlug != "" {
		var brandID string
		err := tx.QueryRow(ctx, `INSERT INTO brands (slug, name) VALUES ($1, $2)
			ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug RETURNING id`,
			w.BrandSlug, w.BrandName).Scan(&brandID)
		if err != nil {
			return eris.Wrapf(err, "postgres: resolve brand %s", w.BrandSlug)
		}
		p.BrandID = brandID
	}

	verified, err := marshalJSON(orEmptyList(p.VerifiedFields))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verified_fields")
	}
	data, err := marshalJSON(p.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal product data")
	}

	if w.Created {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		_, err = tx.Exec(ctx, `INSERT INTO products
			(id, name, brand_id, product_type, category, abv, age_statement, volume_ml,
			 country, region, description, status, completeness_score, ecp_total,
			 enrichment_completion, source_url, discovery_source, source_count,
			 verified_fields, fingerprint, data, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			 $14, $15, $16, $17, $18, $19, $20, $21, now(), now())`,
			p.ID, p.Name, p.BrandID, string(p.ProductType), p.Category, p.ABV,
			p.AgeStatement, p.VolumeML, p.Country, p.Region, p.Description,
			string(p.Status), p.CompletenessScore, p.ECPTotal,
			[]byte(p.ECPByGroup), p.SourceURL, p.DiscoverySource, p.SourceCount,
			verified, p.Fingerprint, data)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return eris.Wrap(err, "postgres: insert product")
		}
	} else {
		_, err = tx.Exec(ctx, `UPDATE products SET
			name = $2, brand_id = NULLIF($3, ''), category = $4, abv = $5,
			age_statement = $6, volume_ml = $7, country = $8, region = $9,
			description = $10, status = $11, completeness_score = $12, ecp_total = $13,
			enrichment_completion = $14, source_url = $15, discovery_source = $16,
			source_count = $17, verified_fields = $18, fingerprint = $19, data = $20,
			updated_at = now()
			WHERE id = $1`,
			p.ID, p.Name, p.BrandID, p.Category, p.ABV, p.AgeStatement, p.VolumeML,
			p.Country, p.Region, p.Description, string(p.Status), p.CompletenessScore,
			p.ECPTotal, []byte(p.ECPByGroup), p.SourceURL, p.DiscoverySource,
			p.SourceCount, verified, p.Fingerprint, data)
		if err != nil {
			return eris.Wrap(err, "postgres: update product")
		}
	}

	if len(w.Details) > 0 {
		table := "whiskey_details"
		if p.ProductType == model.ProductTypePortWine {
			table = "port_wine_details"
		}
		detailJSON, err := marshalJSON(w.Details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal details")
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (product_id, data) VALUES ($1, $2)
			ON CONFLICT (product_id) DO UPDATE SET data = %s.data || EXCLUDED.data`, table, table),
			p.ID, detailJSON)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert %s", table)
		}
	}

	for _, a := range w.Awards {
		_, err = tx.Exec(ctx, `INSERT INTO awards (product_id, competition, year, medal, category, score)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (product_id, competition, year) DO NOTHING`,
			p.ID, a.Competition, a.Year, a.Medal, a.Category, a.Score)
		if err != nil {
			return eris.Wrap(err, "postgres: insert award")
		}
	}
	for _, r := range w.Ratings {
		_, err = tx.Exec(ctx, `INSERT INTO ratings (product_id, source, score, max, reviewer)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, r.Source, r.Score, r.Max, r.Reviewer)
		if err != nil {
			return eris.Wrap(err, "postgres: insert rating")
		}
	}
	for _, img := range w.Images {
		_, err = tx.Exec(ctx, `INSERT INTO images (product_id, url, type) VALUES ($1, $2, $3)
			ON CONFLICT (product_id, url) DO NOTHING`,
			p.ID, img.URL, img.Type)
		if err != nil {
			return eris.Wrap(err, "postgres: insert image")
		}
	}
	if w.Source != nil {
		_, err = tx.Exec(ctx, `INSERT INTO product_sources (product_id, url, source_type)
			VALUES ($1, $2, $3) ON CONFLICT (product_id, url) DO NOTHING`,
			p.ID, w.Source.URL, w.Source.SourceType)
		if err != nil {
			return eris.Wrap(err, "postgres: insert product source")
		}
	}
	for _, fs := range w.FieldSources {
		_, err = tx.Exec(ctx, `INSERT INTO product_field_sources (product_id, url, field, confidence)
			VALUES ($1, $2, $3, $4)`,
			p.ID, fs.URL, fs.Field, fs.Confidence)
		if err != nil {
			return eris.Wrap(err, "postgres: insert field source")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit write")
	}
	return nil
}

// UpdateVerifiedFields replaces the verified set and source count after
// a verification pass. Callers only ever grow the set.
func (s *PostgresStore) UpdateVerifiedFields(ctx context.Context, productID string, verified []string, sourceCount int) error {
	raw, err := marshalJSON(orEmptyList(verified))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verified_fields")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE products SET verified_fields = $2, source_count = GREATEST(source_count, $3), updated_at = now() WHERE id = $1`,
		productID, raw, sourceCount)
	if err != nil {
		return eris.Wrap(err, "postgres: update verified fields")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetCrawledSource(ctx context.Context, url string) (*model.CrawledSource, error) {
	var src model.CrawledSource
	err := s.pool.QueryRow(ctx, `SELECT url, COALESCE(title, ''), COALESCE(raw_content, ''),
		COALESCE(content_hash, ''), COALESCE(source_type, ''), extraction_status,
		COALESCE(last_error, ''), fetched_at
		FROM crawled_sources WHERE url = $1`, url).
		Scan(&src.URL, &src.Title, &src.RawContent, &src.ContentHash, &src.SourceType,
			&src.ExtractionStatus, &src.LastError, &src.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get crawled source")
	}
	return &src, nil
}

func (s *PostgresStore) UpsertCrawledSource(ctx context.Context, src *model.CrawledSource) error {
	if len(src.RawContent) > model.MaxCachedContentBytes {
		src.RawContent = src.RawContent[:model.MaxCachedContentBytes]
	}
	fetchedAt := src.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO crawled_sources
		(url, title, raw_content, content_hash, source_type, extraction_status, last_error, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url) DO UPDATE SET title = EXCLUDED.title, raw_content = EXCLUDED.raw_content,
			content_hash = EXCLUDED.content_hash, source_type = EXCLUDED.source_type,
			extraction_status = EXCLUDED.extraction_status, last_error = EXCLUDED.last_error,
			fetched_at = EXCLUDED.fetched_at`,
		src.URL, src.Title, src.RawContent, src.ContentHash, string(src.SourceType),
		string(src.ExtractionStatus), src.LastError, fetchedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert crawled source")
	}
	return nil
}

func (s *PostgresStore) DeleteStaleCrawledSources(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawled_sources WHERE fetched_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete stale crawled sources")
	}
	return tag.RowsAffected(), nil
}

const scheduleColumns = `slug, category, COALESCE(description, ''), frequency, COALESCE(base_url, ''),
	terms, COALESCE(product_type_filter, ''), enrich, is_active, next_run, last_run,
	total_runs, total_found, total_new, total_duplicate, total_verified, created_at, updated_at`

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		sch   model.Schedule
		freq  string
		terms []byte
	)
	err := row.Scan(&sch.Slug, &sch.Category, &sch.Description, &freq, &sch.BaseURL,
		&terms, &sch.ProductTypeFilter, &sch.Enrich, &sch.IsActive, &sch.NextRun,
		&sch.LastRun, &sch.TotalRuns, &sch.TotalFound, &sch.TotalNew,
		&sch.TotalDuplicate, &sch.TotalVerified, &sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan schedule")
	}
	sch.Frequency, err = time.ParseDuration(freq)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: schedule %s frequency", sch.Slug)
	}
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &sch.Terms); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal schedule terms")
		}
	}
	return &sch, nil
}

func (s *PostgresStore) GetSchedule(ctx context.Context, slug string) (*model.Schedule, error) {
	return scanSchedule(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE slug = $1`, slug))
}

func (s *PostgresStore) listSchedules(ctx context.Context, query string, args ...any) ([]model.Schedule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list schedules")
	}
	defer rows.Close()
	var out []model.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sch)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate schedules")
	}
	return out, nil
}

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	return s.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY slug`)
}

func (s *PostgresStore) ListDueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	return s.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules
		WHERE is_active AND (next_run IS NULL OR next_run <= $1) ORDER BY next_run NULLS FIRST`, now)
}

func (s *PostgresStore) CreateSchedule(ctx context.Context, sch *model.Schedule) error {
	terms, err := marshalJSON(sch.Terms)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal schedule terms")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO schedules
		(slug, category, description, frequency, base_url, terms, product_type_filter,
		 enrich, is_active, next_run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		sch.Slug, string(sch.Category), sch.Description, sch.Frequency.String(),
		sch.BaseURL, terms, string(sch.ProductTypeFilter), sch.Enrich, sch.IsActive, sch.NextRun)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return eris.Wrapf(err, "postgres: create schedule %s", sch.Slug)
	}
	return nil
}

func (s *PostgresStore) SetScheduleActive(ctx context.Context, slug string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE schedules SET is_active = $2, updated_at = now() WHERE slug = $1`, slug, active)
	if err != nil {
		return eris.Wrapf(err, "postgres: set schedule %s active", slug)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateScheduleTerms(ctx context.Context, slug string, terms []model.ScheduleTerm) error {
	raw, err := marshalJSON(terms)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal schedule terms")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE schedules SET terms = $2, updated_at = now() WHERE slug = $1`, slug, raw)
	if err != nil {
		return eris.Wrapf(err, "postgres: update schedule %s terms", slug)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRunStats folds one run's counters into the schedule aggregates
// under a row lock. next_run advances only when advance is true, which
// callers set on successful completion.
func (s *PostgresStore) RecordRunStats(ctx context.Context, slug string, counters model.JobCounters, completedAt time.Time, advance bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin run stats")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var freq string
	err = tx.QueryRow(ctx, `SELECT frequency FROM schedules WHERE slug = $1 FOR UPDATE`, slug).Scan(&freq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return eris.Wrapf(err, "postgres: lock schedule %s", slug)
	}

	var nextRun *time.Time
	if advance {
		d, err := time.ParseDuration(freq)
		if err != nil {
			return eris.Wrapf(err, "postgres: schedule %s frequency", slug)
		}
		t := completedAt.Add(d)
		nextRun = &t
	}

	_, err = tx.Exec(ctx, `UPDATE schedules SET
		total_runs = total_runs + 1,
		total_found = total_found + $2,
		total_new = total_new + $3,
		total_duplicate = total_duplicate + $4,
		total_verified = total_verified + $5,
		last_run = $6,
		next_run = COALESCE($7, next_run),
		updated_at = now()
		WHERE slug = $1`,
		slug, counters.ProductsFound, counters.ProductsNew, counters.ProductsDuplicate,
		counters.ProductsVerified, completedAt, nextRun)
	if err != nil {
		return eris.Wrapf(err, "postgres: record run stats for %s", slug)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit run stats")
	}
	return nil
}

const jobColumns = `id, COALESCE(schedule_slug, ''), status, counters, COALESCE(error_message, ''),
	cancelled, created_at, started_at, completed_at`

func scanJob(row rowScanner) (*model.CrawlJob, error) {
	var (
		job      model.CrawlJob
		counters []byte
	)
	err := row.Scan(&job.ID, &job.ScheduleSlug, &job.Status, &counters,
		&job.ErrorMessage, &job.Cancelled, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job counters")
		}
	}
	return &job, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, scheduleSlug string) (*model.CrawlJob, error) {
	job := &model.CrawlJob{
		ID:           uuid.NewString(),
		ScheduleSlug: scheduleSlug,
		Status:       model.JobPending,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO crawl_jobs (id, schedule_slug, status, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4)`,
		job.ID, scheduleSlug, string(job.Status), job.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create job")
	}
	return job, nil
}

func (s *PostgresStore) StartJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE crawl_jobs SET status = 'running', started_at = now()
		WHERE id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return eris.Wrap(err, "postgres: start job")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob moves a job to a terminal state. Already-terminal jobs
// are left untouched.
func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, status model.JobStatus, counters model.JobCounters, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("postgres: %s is not a terminal job status", status)
	}
	raw, err := marshalJSON(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job counters")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE crawl_jobs SET status = $2, counters = $3,
		error_message = NULLIF($4, ''), completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID, string(status), raw, errMsg)
	if err != nil {
		return eris.Wrap(err, "postgres: complete job")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelJob flags a job; the worker observes the flag between products
// and finishes with a cancelled status.
func (s *PostgresStore) CancelJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE crawl_jobs SET cancelled = true
		WHERE id = $1 AND status IN ('pending', 'running')`, jobID)
	if err != nil {
		return eris.Wrap(err, "postgres: cancel job")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.CrawlJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, jobID))
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.CrawlJob, error) {
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ScheduleSlug != "" {
		args = append(args, filter.ScheduleSlug)
		query += fmt.Sprintf(" AND schedule_slug = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()
	var out []model.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate jobs")
	}
	return out, nil
}

func (s *PostgresStore) CreateDiscoveryResult(ctx context.Context, r *model.DiscoveryResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	data, err := marshalJSON(r.ExtractedData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal discovery data")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO discovery_results
		(id, job_id, term, source_url, source_domain, title, search_rank, extracted_data,
		 success, match_score, needs_review, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14)`,
		r.ID, r.JobID, r.Term, r.SourceURL, r.SourceDomain, r.Title, r.SearchRank,
		data, r.Success, r.MatchScore, r.NeedsReview, string(r.Status), r.ErrorMessage, r.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: create discovery result")
	}
	return nil
}

// FinishDiscoveryResult records the terminal outcome for a URL. Rows
// already in a terminal state are not rewritten.
func (s *PostgresStore) FinishDiscoveryResult(ctx context.Context, id string, status model.DiscoveryStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE discovery_results SET status = $2,
		success = ($2 = 'success'), error_message = NULLIF($3, '')
		WHERE id = $1 AND status = 'processing'`,
		id, string(status), errMsg)
	if err != nil {
		return eris.Wrap(err, "postgres: finish discovery result")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
