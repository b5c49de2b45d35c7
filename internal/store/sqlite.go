package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/spirits-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite for local
// single-binary runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas apply per connection; a single connection keeps them in
	// force and sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS brands (
	id         TEXT PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	producer   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL,
	brand_id              TEXT NOT NULL DEFAULT '',
	product_type          TEXT NOT NULL,
	category              TEXT NOT NULL DEFAULT '',
	abv                   REAL,
	age_statement         INTEGER,
	volume_ml             INTEGER,
	country               TEXT NOT NULL DEFAULT '',
	region                TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'skeleton',
	completeness_score    REAL NOT NULL DEFAULT 0,
	ecp_total             REAL NOT NULL DEFAULT 0,
	enrichment_completion TEXT,
	source_url            TEXT NOT NULL DEFAULT '',
	discovery_source      TEXT NOT NULL DEFAULT '',
	source_count          INTEGER NOT NULL DEFAULT 1,
	verified_fields       TEXT NOT NULL DEFAULT '[]',
	fingerprint           TEXT NOT NULL UNIQUE,
	data                  TEXT NOT NULL DEFAULT '{}',
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_products_ecp_total ON products(ecp_total);
CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);
CREATE INDEX IF NOT EXISTS idx_products_source_url ON products(source_url);
CREATE INDEX IF NOT EXISTS idx_products_type ON products(product_type);

CREATE TABLE IF NOT EXISTS whiskey_details (
	product_id TEXT PRIMARY KEY REFERENCES products(id),
	data       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS port_wine_details (
	product_id TEXT PRIMARY KEY REFERENCES products(id),
	data       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS awards (
	id          TEXT PRIMARY KEY,
	product_id  TEXT NOT NULL REFERENCES products(id),
	competition TEXT NOT NULL,
	year        INTEGER NOT NULL DEFAULT 0,
	medal       TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	score       REAL NOT NULL DEFAULT 0,
	UNIQUE (product_id, competition, year)
);

CREATE TABLE IF NOT EXISTS ratings (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	source     TEXT NOT NULL DEFAULT '',
	score      REAL NOT NULL,
	max        REAL NOT NULL DEFAULT 0,
	reviewer   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS images (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	url        TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	UNIQUE (product_id, url)
);

CREATE TABLE IF NOT EXISTS product_sources (
	id            TEXT PRIMARY KEY,
	product_id    TEXT NOT NULL REFERENCES products(id),
	url           TEXT NOT NULL,
	source_type   TEXT NOT NULL DEFAULT '',
	discovered_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (product_id, url)
);

CREATE TABLE IF NOT EXISTS product_field_sources (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	url        TEXT NOT NULL,
	field      TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_field_sources_product ON product_field_sources(product_id);

CREATE TABLE IF NOT EXISTS crawled_sources (
	url               TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	raw_content       TEXT NOT NULL DEFAULT '',
	content_hash      TEXT NOT NULL DEFAULT '',
	source_type       TEXT NOT NULL DEFAULT '',
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	last_error        TEXT NOT NULL DEFAULT '',
	fetched_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_crawled_sources_fetched_at ON crawled_sources(fetched_at);

CREATE TABLE IF NOT EXISTS schedules (
	slug                TEXT PRIMARY KEY,
	category            TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	frequency           TEXT NOT NULL,
	base_url            TEXT NOT NULL DEFAULT '',
	terms               TEXT NOT NULL DEFAULT '[]',
	product_type_filter TEXT NOT NULL DEFAULT '',
	enrich              INTEGER NOT NULL DEFAULT 0,
	is_active           INTEGER NOT NULL DEFAULT 1,
	next_run            DATETIME,
	last_run            DATETIME,
	total_runs          INTEGER NOT NULL DEFAULT 0,
	total_found         INTEGER NOT NULL DEFAULT 0,
	total_new           INTEGER NOT NULL DEFAULT 0,
	total_duplicate     INTEGER NOT NULL DEFAULT 0,
	total_verified      INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id            TEXT PRIMARY KEY,
	schedule_slug TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	counters      TEXT NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	cancelled     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at    DATETIME,
	completed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status);

CREATE TABLE IF NOT EXISTS discovery_results (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	term           TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL,
	source_domain  TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	search_rank    INTEGER NOT NULL DEFAULT 0,
	extracted_data TEXT,
	success        INTEGER NOT NULL DEFAULT 0,
	match_score    REAL NOT NULL DEFAULT 0,
	needs_review   INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'processing',
	error_message  TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_discovery_results_job ON discovery_results(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	// modernc surfaces SQLITE_CONSTRAINT_UNIQUE in the message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const sqliteProductColumns = `id, name, brand_id, product_type, category, abv, age_statement,
	volume_ml, country, region, description, status, completeness_score, ecp_total,
	enrichment_completion, source_url, discovery_source, source_count, verified_fields,
	fingerprint, data, created_at, updated_at`

func scanSQLiteProduct(row rowScanner) (*model.Product, error) {
	var (
		p        model.Product
		ecpJSON  sql.NullString
		verified string
		data     string
	)
	err := row.Scan(&p.ID, &p.Name, &p.BrandID, &p.ProductType, &p.Category,
		&p.ABV, &p.AgeStatement, &p.VolumeML, &p.Country, &p.Region,
		&p.Description, &p.Status, &p.CompletenessScore, &p.ECPTotal, &ecpJSON,
		&p.SourceURL, &p.DiscoverySource, &p.SourceCount, &verified,
		&p.Fingerprint, &data, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	if ecpJSON.Valid {
		p.ECPByGroup = json.RawMessage(ecpJSON.String)
	}
	if verified != "" {
		if err := json.Unmarshal([]byte(verified), &p.VerifiedFields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal verified_fields")
		}
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &p.Fields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal product data")
		}
	}
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return scanSQLiteProduct(s.db.QueryRowContext(ctx, `SELECT `+sqliteProductColumns+` FROM products WHERE id = ?`, id))
}

func (s *SQLiteStore) GetProductBySourceURL(ctx context.Context, url string) (*model.Product, error) {
	return scanSQLiteProduct(s.db.QueryRowContext(ctx, `SELECT `+sqliteProductColumns+` FROM products WHERE source_url = ? LIMIT 1`, url))
}

func (s *SQLiteStore) GetProductByFingerprint(ctx context.Context, fingerprint string) (*model.Product, error) {
	return scanSQLiteProduct(s.db.QueryRowContext(ctx, `SELECT `+sqliteProductColumns+` FROM products WHERE fingerprint = ? LIMIT 1`, fingerprint))
}

func (s *SQLiteStore) collectProducts(rows *sql.Rows) ([]model.Product, error) {
	defer rows.Close()
	var out []model.Product
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate products")
	}
	return out, nil
}

func (s *SQLiteStore) SearchProductsByNamePrefix(ctx context.Context, prefix string, productType model.ProductType, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(prefix) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteProductColumns+` FROM products
		WHERE lower(name) LIKE ? AND product_type = ? ORDER BY updated_at DESC LIMIT ?`,
		pattern, string(productType), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search products by name")
	}
	return s.collectProducts(rows)
}

func (s *SQLiteStore) ListProductsByStatus(ctx context.Context, status model.ProductStatus, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteProductColumns+` FROM products
		WHERE status = ? ORDER BY updated_at ASC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products by status")
	}
	return s.collectProducts(rows)
}

func (s *SQLiteStore) ListEnrichmentCandidates(ctx context.Context, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteProductColumns+` FROM products
		WHERE status NOT IN ('complete', 'rejected') ORDER BY ecp_total ASC, updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichment candidates")
	}
	return s.collectProducts(rows)
}

func (s *SQLiteStore) FindOrCreateBrand(ctx context.Context, slug, name string) (*model.Brand, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO brands (id, slug, name) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO NOTHING`, uuid.NewString(), slug, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create brand %s", slug)
	}
	var b model.Brand
	err = s.db.QueryRowContext(ctx, `SELECT id, slug, name, producer, created_at FROM brands WHERE slug = ?`, slug).
		Scan(&b.ID, &b.Slug, &b.Name, &b.Producer, &b.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get brand %s", slug)
	}
	return &b, nil
}

func (s *SQLiteStore) WriteProduct(ctx context.Context, w *ProductWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin write")
	}
	defer tx.Rollback() //nolint:errcheck

	p := w.Product
	if w.BrandSlug != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO brands (id, slug, name) VALUES (?, ?, ?)
			ON CONFLICT(slug) DO NOTHING`, uuid.NewString(), w.BrandSlug, w.BrandName); err != nil {
			return eris.Wrapf(err, "sqlite: create brand %s", w.BrandSlug)
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM brands WHERE slug = ?`, w.BrandSlug).Scan(&p.BrandID); err != nil {
			return eris.Wrapf(err, "sqlite: resolve brand %s", w.BrandSlug)
		}
	}

	verified, err := marshalJSON(orEmptyList(p.VerifiedFields))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verified_fields")
	}
	data, err := marshalJSON(p.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal product data")
	}
	var ecpJSON any
	if len(p.ECPByGroup) > 0 {
		ecpJSON = string(p.ECPByGroup)
	}
	now := time.Now().UTC()

	if w.Created {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO products
			(id, name, brand_id, product_type, category, abv, age_statement, volume_ml,
			 country, region, description, status, completeness_score, ecp_total,
			 enrichment_completion, source_url, discovery_source, source_count,
			 verified_fields, fingerprint, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.BrandID, string(p.ProductType), p.Category, p.ABV,
			p.AgeStatement, p.VolumeML, p.Country, p.Region, p.Description,
			string(p.Status), p.CompletenessScore, p.ECPTotal, ecpJSON,
			p.SourceURL, p.DiscoverySource, p.SourceCount,
			string(verified), p.Fingerprint, string(data), now, now)
		if err != nil {
			if isSQLiteUnique(err) {
				return ErrDuplicate
			}
			return eris.Wrap(err, "sqlite: insert product")
		}
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE products SET
			name = ?, brand_id = ?, category = ?, abv = ?, age_statement = ?,
			volume_ml = ?, country = ?, region = ?, description = ?, status = ?,
			completeness_score = ?, ecp_total = ?, enrichment_completion = ?,
			source_url = ?, discovery_source = ?, source_count = ?, verified_fields = ?,
			fingerprint = ?, data = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.BrandID, p.Category, p.ABV, p.AgeStatement, p.VolumeML,
			p.Country, p.Region, p.Description, string(p.Status),
			p.CompletenessScore, p.ECPTotal, ecpJSON, p.SourceURL, p.DiscoverySource,
			p.SourceCount, string(verified), p.Fingerprint, string(data), now, p.ID)
		if err != nil {
			return eris.Wrap(err, "sqlite: update product")
		}
	}

	if len(w.Details) > 0 {
		table := "whiskey_details"
		if p.ProductType == model.ProductTypePortWine {
			table = "port_wine_details"
		}
		detailJSON, err := marshalJSON(w.Details)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal details")
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (product_id, data) VALUES (?, ?)
			ON CONFLICT(product_id) DO UPDATE SET data = excluded.data`, table),
			p.ID, string(detailJSON))
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert %s", table)
		}
	}

	for _, a := range w.Awards {
		_, err = tx.ExecContext(ctx, `INSERT INTO awards (id, product_id, competition, year, medal, category, score)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(product_id, competition, year) DO NOTHING`,
			uuid.NewString(), p.ID, a.Competition, a.Year, a.Medal, a.Category, a.Score)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert award")
		}
	}
	for _, r := range w.Ratings {
		_, err = tx.ExecContext(ctx, `INSERT INTO ratings (id, product_id, source, score, max, reviewer)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), p.ID, r.Source, r.Score, r.Max, r.Reviewer)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert rating")
		}
	}
	for _, img := range w.Images {
		_, err = tx.ExecContext(ctx, `INSERT INTO images (id, product_id, url, type) VALUES (?, ?, ?, ?)
			ON CONFLICT(product_id, url) DO NOTHING`,
			uuid.NewString(), p.ID, img.URL, img.Type)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert image")
		}
	}
	if w.Source != nil {
		_, err = tx.ExecContext(ctx, `INSERT INTO product_sources (id, product_id, url, source_type)
			VALUES (?, ?, ?, ?) ON CONFLICT(product_id, url) DO NOTHING`,
			uuid.NewString(), p.ID, w.Source.URL, string(w.Source.SourceType))
		if err != nil {
			return eris.Wrap(err, "sqlite: insert product source")
		}
	}
	for _, fs := range w.FieldSources {
		_, err = tx.ExecContext(ctx, `INSERT INTO product_field_sources (id, product_id, url, field, confidence)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), p.ID, fs.URL, fs.Field, fs.Confidence)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert field source")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit write")
	}
	return nil
}

func (s *SQLiteStore) UpdateVerifiedFields(ctx context.Context, productID string, verified []string, sourceCount int) error {
	raw, err := marshalJSON(orEmptyList(verified))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verified_fields")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE products SET verified_fields = ?,
		source_count = MAX(source_count, ?), updated_at = datetime('now') WHERE id = ?`,
		string(raw), sourceCount, productID)
	if err != nil {
		return eris.Wrap(err, "sqlite: update verified fields")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetCrawledSource(ctx context.Context, url string) (*model.CrawledSource, error) {
	var src model.CrawledSource
	err := s.db.QueryRowContext(ctx, `SELECT url, title, raw_content, content_hash, source_type,
		extraction_status, last_error, fetched_at FROM crawled_sources WHERE url = ?`, url).
		Scan(&src.URL, &src.Title, &src.RawContent, &src.ContentHash, &src.SourceType,
			&src.ExtractionStatus, &src.LastError, &src.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get crawled source")
	}
	return &src, nil
}

func (s *SQLiteStore) UpsertCrawledSource(ctx context.Context, src *model.CrawledSource) error {
	if len(src.RawContent) > model.MaxCachedContentBytes {
		src.RawContent = src.RawContent[:model.MaxCachedContentBytes]
	}
	fetchedAt := src.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO crawled_sources
		(url, title, raw_content, content_hash, source_type, extraction_status, last_error, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET title = excluded.title, raw_content = excluded.raw_content,
			content_hash = excluded.content_hash, source_type = excluded.source_type,
			extraction_status = excluded.extraction_status, last_error = excluded.last_error,
			fetched_at = excluded.fetched_at`,
		src.URL, src.Title, src.RawContent, src.ContentHash, string(src.SourceType),
		string(src.ExtractionStatus), src.LastError, fetchedAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert crawled source")
	}
	return nil
}

func (s *SQLiteStore) DeleteStaleCrawledSources(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM crawled_sources WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete stale crawled sources")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

const sqliteScheduleColumns = `slug, category, description, frequency, base_url, terms,
	product_type_filter, enrich, is_active, next_run, last_run, total_runs, total_found,
	total_new, total_duplicate, total_verified, created_at, updated_at`

func scanSQLiteSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		sch   model.Schedule
		freq  string
		terms string
	)
	err := row.Scan(&sch.Slug, &sch.Category, &sch.Description, &freq, &sch.BaseURL,
		&terms, &sch.ProductTypeFilter, &sch.Enrich, &sch.IsActive, &sch.NextRun,
		&sch.LastRun, &sch.TotalRuns, &sch.TotalFound, &sch.TotalNew,
		&sch.TotalDuplicate, &sch.TotalVerified, &sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: scan schedule")
	}
	sch.Frequency, err = time.ParseDuration(freq)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: schedule %s frequency", sch.Slug)
	}
	if terms != "" {
		if err := json.Unmarshal([]byte(terms), &sch.Terms); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal schedule terms")
		}
	}
	return &sch, nil
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, slug string) (*model.Schedule, error) {
	return scanSQLiteSchedule(s.db.QueryRowContext(ctx, `SELECT `+sqliteScheduleColumns+` FROM schedules WHERE slug = ?`, slug))
}

func (s *SQLiteStore) listSchedules(ctx context.Context, query string, args ...any) ([]model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list schedules")
	}
	defer rows.Close()
	var out []model.Schedule
	for rows.Next() {
		sch, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sch)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate schedules")
	}
	return out, nil
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	return s.listSchedules(ctx, `SELECT `+sqliteScheduleColumns+` FROM schedules ORDER BY slug`)
}

func (s *SQLiteStore) ListDueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	return s.listSchedules(ctx, `SELECT `+sqliteScheduleColumns+` FROM schedules
		WHERE is_active AND (next_run IS NULL OR next_run <= ?) ORDER BY next_run`, now)
}

func (s *SQLiteStore) CreateSchedule(ctx context.Context, sch *model.Schedule) error {
	terms, err := marshalJSON(sch.Terms)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal schedule terms")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO schedules
		(slug, category, description, frequency, base_url, terms, product_type_filter,
		 enrich, is_active, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.Slug, string(sch.Category), sch.Description, sch.Frequency.String(),
		sch.BaseURL, string(terms), string(sch.ProductTypeFilter), sch.Enrich, sch.IsActive, sch.NextRun)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrDuplicate
		}
		return eris.Wrapf(err, "sqlite: create schedule %s", sch.Slug)
	}
	return nil
}

func (s *SQLiteStore) SetScheduleActive(ctx context.Context, slug string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET is_active = ?, updated_at = datetime('now') WHERE slug = ?`, active, slug)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set schedule %s active", slug)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateScheduleTerms(ctx context.Context, slug string, terms []model.ScheduleTerm) error {
	raw, err := marshalJSON(terms)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal schedule terms")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET terms = ?, updated_at = datetime('now') WHERE slug = ?`, string(raw), slug)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update schedule %s terms", slug)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordRunStats(ctx context.Context, slug string, counters model.JobCounters, completedAt time.Time, advance bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin run stats")
	}
	defer tx.Rollback() //nolint:errcheck

	var freq string
	err = tx.QueryRowContext(ctx, `SELECT frequency FROM schedules WHERE slug = ?`, slug).Scan(&freq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return eris.Wrapf(err, "sqlite: load schedule %s", slug)
	}

	var nextRun any
	if advance {
		d, err := time.ParseDuration(freq)
		if err != nil {
			return eris.Wrapf(err, "sqlite: schedule %s frequency", slug)
		}
		nextRun = completedAt.Add(d)
	}

	if nextRun != nil {
		_, err = tx.ExecContext(ctx, `UPDATE schedules SET
			total_runs = total_runs + 1, total_found = total_found + ?,
			total_new = total_new + ?, total_duplicate = total_duplicate + ?,
			total_verified = total_verified + ?, last_run = ?, next_run = ?,
			updated_at = datetime('now') WHERE slug = ?`,
			counters.ProductsFound, counters.ProductsNew, counters.ProductsDuplicate,
			counters.ProductsVerified, completedAt, nextRun, slug)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE schedules SET
			total_runs = total_runs + 1, total_found = total_found + ?,
			total_new = total_new + ?, total_duplicate = total_duplicate + ?,
			total_verified = total_verified + ?, last_run = ?,
			updated_at = datetime('now') WHERE slug = ?`,
			counters.ProductsFound, counters.ProductsNew, counters.ProductsDuplicate,
			counters.ProductsVerified, completedAt, slug)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: record run stats for %s", slug)
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit run stats")
	}
	return nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, scheduleSlug string) (*model.CrawlJob, error) {
	job := &model.CrawlJob{
		ID:           uuid.NewString(),
		ScheduleSlug: scheduleSlug,
		Status:       model.JobPending,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO crawl_jobs (id, schedule_slug, status, created_at)
		VALUES (?, ?, ?, ?)`, job.ID, scheduleSlug, string(job.Status), job.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create job")
	}
	return job, nil
}

func (s *SQLiteStore) StartJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE crawl_jobs SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'pending'`, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrap(err, "sqlite: start job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, status model.JobStatus, counters model.JobCounters, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("sqlite: %s is not a terminal job status", status)
	}
	raw, err := marshalJSON(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job counters")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE crawl_jobs SET status = ?, counters = ?,
		error_message = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		string(status), string(raw), errMsg, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CancelJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE crawl_jobs SET cancelled = 1
		WHERE id = ? AND status IN ('pending', 'running')`, jobID)
	if err != nil {
		return eris.Wrap(err, "sqlite: cancel job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteJob(row rowScanner) (*model.CrawlJob, error) {
	var (
		job      model.CrawlJob
		counters string
	)
	err := row.Scan(&job.ID, &job.ScheduleSlug, &job.Status, &counters,
		&job.ErrorMessage, &job.Cancelled, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if counters != "" {
		if err := json.Unmarshal([]byte(counters), &job.Counters); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job counters")
		}
	}
	return &job, nil
}

const sqliteJobColumns = `id, schedule_slug, status, counters, error_message, cancelled,
	created_at, started_at, completed_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.CrawlJob, error) {
	return scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM crawl_jobs WHERE id = ?`, jobID))
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.CrawlJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM crawl_jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.ScheduleSlug != "" {
		query += " AND schedule_slug = ?"
		args = append(args, filter.ScheduleSlug)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()
	var out []model.CrawlJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate jobs")
	}
	return out, nil
}

func (s *SQLiteStore) CreateDiscoveryResult(ctx context.Context, r *model.DiscoveryResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	data, err := marshalJSON(r.ExtractedData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal discovery data")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO discovery_results
		(id, job_id, term, source_url, source_domain, title, search_rank, extracted_data,
		 success, match_score, needs_review, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.Term, r.SourceURL, r.SourceDomain, r.Title, r.SearchRank,
		string(data), r.Success, r.MatchScore, r.NeedsReview, string(r.Status),
		r.ErrorMessage, r.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: create discovery result")
	}
	return nil
}

func (s *SQLiteStore) FinishDiscoveryResult(ctx context.Context, id string, status model.DiscoveryStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE discovery_results SET status = ?,
		success = (? = 'success'), error_message = ?
		WHERE id = ? AND status = 'processing'`,
		string(status), string(status), errMsg, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: finish discovery result")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
