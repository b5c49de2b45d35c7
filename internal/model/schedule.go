package model

import "time"

// ScheduleCategory routes a schedule to its worker queue.
type ScheduleCategory string

const (
	CategoryDiscovery     ScheduleCategory = "discovery"
	CategoryCompetition   ScheduleCategory = "competition"
	CategorySingleProduct ScheduleCategory = "single_product"
)

// ScheduleTerm is one search term on a schedule. Plain-string terms are
// wrapped into a ScheduleTerm with an inferred product type.
type ScheduleTerm struct {
	Term               string      `json:"term"`
	ProductType        ProductType `json:"product_type,omitempty"`
	Category           string      `json:"category,omitempty"`
	Priority           int         `json:"priority,omitempty"`
	MaxResults         int         `json:"max_results,omitempty"`
	SeasonalStartMonth int         `json:"seasonal_start_month,omitempty"`
	SeasonalEndMonth   int         `json:"seasonal_end_month,omitempty"`
	SearchCount        int         `json:"search_count,omitempty"`
	LastSearched       *time.Time  `json:"last_searched,omitempty"`
	ProductsDiscovered int         `json:"products_discovered,omitempty"`
}

// InSeason reports whether the term is inside its seasonal window for
// the given time. A window may wrap across the year boundary; a term
// without a window is always in season.
func (t ScheduleTerm) InSeason(now time.Time) bool {
	if t.SeasonalStartMonth == 0 || t.SeasonalEndMonth == 0 {
		return true
	}
	m := int(now.Month())
	start, end := t.SeasonalStartMonth, t.SeasonalEndMonth
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

// Schedule is a recurring workload definition, identified by slug.
type Schedule struct {
	Slug              string           `json:"slug"`
	Category          ScheduleCategory `json:"category"`
	Description       string           `json:"description,omitempty"`
	Frequency         time.Duration    `json:"frequency"`
	BaseURL           string           `json:"base_url,omitempty"`
	Terms             []ScheduleTerm   `json:"terms,omitempty"`
	ProductTypeFilter ProductType      `json:"product_type_filter,omitempty"`
	Enrich            bool             `json:"enrich"`
	IsActive          bool             `json:"is_active"`
	NextRun           *time.Time       `json:"next_run,omitempty"`
	LastRun           *time.Time       `json:"last_run,omitempty"`
	TotalRuns         int              `json:"total_runs"`
	TotalFound        int              `json:"total_products_found"`
	TotalNew          int              `json:"total_products_new"`
	TotalDuplicate    int              `json:"total_products_duplicate"`
	TotalVerified     int              `json:"total_products_verified"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Due reports whether the schedule should be dispatched at the given
// time: active, and either never run or past its next_run.
func (s *Schedule) Due(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	return s.NextRun == nil || !s.NextRun.After(now)
}

// JobStatus is the lifecycle state of a crawl job. Terminal states are
// irreversible.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobCounters aggregates per-run work and spend totals.
type JobCounters struct {
	PagesProcessed    int `json:"pages_processed"`
	URLsFound         int `json:"urls_found"`
	URLsCrawled       int `json:"urls_crawled"`
	URLsSkipped       int `json:"urls_skipped"`
	ProductsFound     int `json:"products_found"`
	ProductsNew       int `json:"products_new"`
	ProductsUpdated   int `json:"products_updated"`
	ProductsDuplicate int `json:"products_duplicates"`
	ProductsVerified  int `json:"products_verified"`
	ErrorCount        int `json:"error_count"`
	SerpAPICalls      int `json:"serpapi_calls_used"`
	ScrapingBeeCalls  int `json:"scrapingbee_calls_used"`
	AICalls           int `json:"ai_calls_used"`
}

// Add merges another set of counters into this one.
func (c *JobCounters) Add(o JobCounters) {
	c.PagesProcessed += o.PagesProcessed
	c.URLsFound += o.URLsFound
	c.URLsCrawled += o.URLsCrawled
	c.URLsSkipped += o.URLsSkipped
	c.ProductsFound += o.ProductsFound
	c.ProductsNew += o.ProductsNew
	c.ProductsUpdated += o.ProductsUpdated
	c.ProductsDuplicate += o.ProductsDuplicate
	c.ProductsVerified += o.ProductsVerified
	c.ErrorCount += o.ErrorCount
	c.SerpAPICalls += o.SerpAPICalls
	c.ScrapingBeeCalls += o.ScrapingBeeCalls
	c.AICalls += o.AICalls
}

// CrawlJob is one execution of a schedule.
type CrawlJob struct {
	ID           string      `json:"id"`
	ScheduleSlug string      `json:"schedule_slug,omitempty"`
	Status       JobStatus   `json:"status"`
	Counters     JobCounters `json:"counters"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Cancelled    bool        `json:"cancelled"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// DiscoveryStatus is the per-URL outcome state within a discovery job.
type DiscoveryStatus string

const (
	DiscoveryProcessing DiscoveryStatus = "processing"
	DiscoverySuccess    DiscoveryStatus = "success"
	DiscoveryDuplicate  DiscoveryStatus = "duplicate"
	DiscoveryFailed     DiscoveryStatus = "failed"
)

// DiscoveryResult is one row per URL processed in a discovery job.
// Immutable after reaching a terminal status.
type DiscoveryResult struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	Term          string          `json:"term,omitempty"`
	SourceURL     string          `json:"source_url"`
	SourceDomain  string          `json:"source_domain,omitempty"`
	Title         string          `json:"title,omitempty"`
	SearchRank    int             `json:"search_rank,omitempty"`
	ExtractedData map[string]any  `json:"extracted_data,omitempty"`
	Success       bool            `json:"success"`
	MatchScore    float64         `json:"match_score,omitempty"`
	NeedsReview   bool            `json:"needs_review"`
	Status        DiscoveryStatus `json:"status"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
