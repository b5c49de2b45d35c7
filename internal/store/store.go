// Package store persists products, crawl caches, schedules, and jobs.
// Two backends exist: Postgres (pgx) for production and SQLite for
// local single-binary runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spirits-cli/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// ErrDuplicate is returned when an insert loses a uniqueness race, for
// example two workers writing the same fingerprint. Callers fall back
// to the update path.
var ErrDuplicate = eris.New("store: duplicate")

// JobFilter specifies criteria for listing crawl jobs.
type JobFilter struct {
	Status       model.JobStatus `json:"status,omitempty"`
	ScheduleSlug string          `json:"schedule_slug,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// ProductWrite is one atomic product persist: the final product state
// plus its evidence rows, applied in a single transaction.
type ProductWrite struct {
	Product      *model.Product
	Created      bool
	BrandSlug    string
	BrandName    string
	Details      map[string]any
	Awards       []model.Award
	Ratings      []model.Rating
	Images       []model.Image
	Source       *model.ProductSource
	FieldSources []model.ProductFieldSource
}

// Store defines the persistence interface for the discovery pipeline.
type Store interface {
	// Products
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	GetProductBySourceURL(ctx context.Context, url string) (*model.Product, error)
	GetProductByFingerprint(ctx context.Context, fingerprint string) (*model.Product, error)
	SearchProductsByNamePrefix(ctx context.Context, prefix string, productType model.ProductType, limit int) ([]model.Product, error)
	WriteProduct(ctx context.Context, w *ProductWrite) error
	UpdateVerifiedFields(ctx context.Context, productID string, verified []string, sourceCount int) error
	ListProductsByStatus(ctx context.Context, status model.ProductStatus, limit int) ([]model.Product, error)
	ListEnrichmentCandidates(ctx context.Context, limit int) ([]model.Product, error)

	// Brands
	FindOrCreateBrand(ctx context.Context, slug, name string) (*model.Brand, error)

	// Crawled source cache
	GetCrawledSource(ctx context.Context, url string) (*model.CrawledSource, error)
	UpsertCrawledSource(ctx context.Context, src *model.CrawledSource) error
	DeleteStaleCrawledSources(ctx context.Context, olderThan time.Duration) (int64, error)

	// Schedules
	GetSchedule(ctx context.Context, slug string) (*model.Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error)
	ListSchedules(ctx context.Context) ([]model.Schedule, error)
	CreateSchedule(ctx context.Context, s *model.Schedule) error
	SetScheduleActive(ctx context.Context, slug string, active bool) error
	UpdateScheduleTerms(ctx context.Context, slug string, terms []model.ScheduleTerm) error
	RecordRunStats(ctx context.Context, slug string, counters model.JobCounters, completedAt time.Time, advance bool) error

	// Jobs
	CreateJob(ctx context.Context, scheduleSlug string) (*model.CrawlJob, error)
	StartJob(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, status model.JobStatus, counters model.JobCounters, errMsg string) error
	CancelJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (*model.CrawlJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.CrawlJob, error)

	// Discovery results
	CreateDiscoveryResult(ctx context.Context, r *model.DiscoveryResult) error
	FinishDiscoveryResult(ctx context.Context, id string, status model.DiscoveryStatus, errMsg string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Slugify lowercases a brand or schedule name and replaces runs of
// non-alphanumerics with single hyphens.
func Slugify(name string) string {
	var b []rune
	lastHyphen := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b = append(b, r)
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			b = append(b, r+('a'-'A'))
			lastHyphen = false
		default:
			if !lastHyphen {
				b = append(b, '-')
				lastHyphen = true
			}
		}
	}
	for len(b) > 0 && b[len(b)-1] == '-' {
		b = b[:len(b)-1]
	}
	return string(b)
}
