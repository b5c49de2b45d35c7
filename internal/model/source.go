package model

import "time"

// SourceType tags where a crawled page came from.
type SourceType string

const (
	SourceRetailer    SourceType = "retailer"
	SourceReview      SourceType = "review"
	SourceCompetition SourceType = "competition"
	SourceOfficial    SourceType = "official_brand"
	SourceOther       SourceType = "other"
)

// ExtractionStatus is the processing state of a cached page.
type ExtractionStatus string

const (
	ExtractionPending     ExtractionStatus = "pending"
	ExtractionProcessed   ExtractionStatus = "processed"
	ExtractionNeedsReview ExtractionStatus = "needs_review"
	ExtractionFailed      ExtractionStatus = "failed"
)

// MaxCachedContentBytes caps raw content stored per URL.
const MaxCachedContentBytes = 500 * 1024

// CrawledSource is the per-URL content cache row, upserted on every
// fetch and consulted before any paid fetch.
type CrawledSource struct {
	URL              string           `json:"url"`
	Title            string           `json:"title,omitempty"`
	RawContent       string           `json:"raw_content,omitempty"`
	ContentHash      string           `json:"content_hash,omitempty"`
	SourceType       SourceType       `json:"source_type,omitempty"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	LastError        string           `json:"last_error,omitempty"`
	FetchedAt        time.Time        `json:"fetched_at"`
}

// Cacheable reports whether the row can serve an extraction without a
// refetch: already processed (or flagged for review) with content.
func (c *CrawledSource) Cacheable() bool {
	if c == nil || c.RawContent == "" {
		return false
	}
	return c.ExtractionStatus == ExtractionProcessed || c.ExtractionStatus == ExtractionNeedsReview
}
