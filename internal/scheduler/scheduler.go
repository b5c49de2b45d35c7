// Package scheduler drives the pipeline: a beat that dispatches due
// schedules and enrichment sweeps, and workers that execute the queued
// jobs.
package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/spirits-cli/internal/competition"
	"github.com/sells-group/spirits-cli/internal/crawler"
	"github.com/sells-group/spirits-cli/internal/discovery"
	"github.com/sells-group/spirits-cli/internal/model"
	"github.com/sells-group/spirits-cli/internal/queue"
	"github.com/sells-group/spirits-cli/internal/store"
	"github.com/sells-group/spirits-cli/internal/verify"
	"github.com/sells-group/spirits-cli/internal/writer"
)

// Beat intervals and sweep bounds.
const (
	CheckDueInterval = 5 * time.Minute
	EnrichInterval   = 30 * time.Minute
	QueueInterval    = 10 * time.Minute
	PruneInterval    = 24 * time.Hour

	DefaultEnrichLimit = 50
	DefaultQueueLimit  = 100

	// SourceRetention is how long cached page content is kept before
	// the daily prune removes it.
	SourceRetention = 30 * 24 * time.Hour

	dequeueTimeout = 5 * time.Second
	drainTimeout   = time.Second

	// enrichConcurrency bounds parallel multi-source enrichment; each
	// product can cost several fetches and an extraction call.
	enrichConcurrency = 4
)

// DiscoveryRunner executes discovery and single-product schedules.
type DiscoveryRunner interface {
	Run(ctx context.Context, sched *model.Schedule, jobID string) (model.JobCounters, error)
}

// CompetitionRunner executes competition-results schedules.
type CompetitionRunner interface {
	Run(ctx context.Context, req *competition.Request) *competition.Result
}

// Enricher runs multi-source extraction for a product name.
type Enricher interface {
	ExtractProductMultiSource(ctx context.Context, req *crawler.Request, maxSources int) *crawler.Result
}

// ProductWriter persists enrichment results.
type ProductWriter interface {
	Write(ctx context.Context, req *writer.Request) *writer.Result
}

// Verifier runs cross-source verification for a product.
type Verifier interface {
	VerifyProduct(ctx context.Context, productID string) *verify.Report
}

// jobPayload identifies a scheduled run on the queue.
type jobPayload struct {
	ScheduleSlug string `json:"schedule_slug"`
	JobID        string `json:"job_id"`
}

// productPayload identifies follow-up work for one product.
type productPayload struct {
	ProductID string `json:"product_id"`
}

// Scheduler owns the beat loop and task execution.
type Scheduler struct {
	st       store.Store
	broker   *queue.Broker
	disc     DiscoveryRunner
	comp     CompetitionRunner
	enricher Enricher
	writer   ProductWriter
	verifier Verifier
	logger   *zap.Logger
}

// New creates a scheduler. comp, enricher, writer, and verifier may be
// nil when the corresponding flows are not deployed; tasks needing
// them fail with a logged error instead of panicking.
func New(st store.Store, broker *queue.Broker, disc DiscoveryRunner, comp CompetitionRunner, enricher Enricher, w ProductWriter, verifier Verifier) *Scheduler {
	return &Scheduler{
		st:       st,
		broker:   broker,
		disc:     disc,
		comp:     comp,
		enricher: enricher,
		writer:   w,
		verifier: verifier,
		logger:   zap.L().With(zap.String("component", "scheduler")),
	}
}

// RunBeat loops the periodic duties until the context is cancelled.
// Each duty runs once immediately on start.
func (s *Scheduler) RunBeat(ctx context.Context) error {
	s.beatOnce(ctx, time.Now().UTC())

	check := time.NewTicker(CheckDueInterval)
	enrich := time.NewTicker(EnrichInterval)
	drain := time.NewTicker(QueueInterval)
	prune := time.NewTicker(PruneInterval)
	defer check.Stop()
	defer enrich.Stop()
	defer drain.Stop()
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-check.C:
			if _, err := s.CheckDueSchedules(ctx, now.UTC()); err != nil {
				s.logger.Error("due-schedule sweep failed", zap.Error(err))
			}
		case <-enrich.C:
			if _, err := s.EnrichSkeletons(ctx, DefaultEnrichLimit); err != nil {
				s.logger.Error("skeleton enrichment sweep failed", zap.Error(err))
			}
		case <-drain.C:
			if _, err := s.ProcessEnrichmentQueue(ctx, DefaultQueueLimit); err != nil {
				s.logger.Error("enrichment queue drain failed", zap.Error(err))
			}
		case <-prune.C:
			if _, err := s.PruneStaleSources(ctx); err != nil {
				s.logger.Error("source prune failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) beatOnce(ctx context.Context, now time.Time) {
	if _, err := s.CheckDueSchedules(ctx, now); err != nil {
		s.logger.Error("due-schedule sweep failed", zap.Error(err))
	}
}

// CheckDueSchedules creates a pending job for every due schedule and
// dispatches it to the queue matching its category. Returns how many
// jobs were dispatched.
func (s *Scheduler) CheckDueSchedules(ctx context.Context, now time.Time) (int, error) {
	due, err := s.st.ListDueSchedules(ctx, now)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for i := range due {
		if err := s.dispatch(ctx, &due[i]); err != nil {
			s.logger.Error("schedule dispatch failed",
				zap.String("schedule", due[i].Slug), zap.Error(err))
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		s.logger.Info("due schedules dispatched", zap.Int("count", dispatched))
	}
	return dispatched, nil
}

func (s *Scheduler) dispatch(ctx context.Context, sched *model.Schedule) error {
	job, err := s.st.CreateJob(ctx, sched.Slug)
	if err != nil {
		return err
	}
	kind, queueName := routeFor(sched.Category)
	task, err := queue.NewTask(kind, jobPayload{ScheduleSlug: sched.Slug, JobID: job.ID})
	if err != nil {
		return err
	}
	return s.broker.Enqueue(ctx, queueName, task)
}

// routeFor maps a schedule category to its task kind and queue.
func routeFor(cat model.ScheduleCategory) (string, string) {
	if cat == model.CategoryCompetition {
		return queue.KindCompetitionScan, queue.QueueCrawl
	}
	return queue.KindDiscoveryRun, queue.QueueDiscovery
}

// TriggerManual creates and dispatches a job for a schedule outside
// its normal cadence. Inactive schedules may be triggered.
func (s *Scheduler) TriggerManual(ctx context.Context, slug string) (*model.CrawlJob, error) {
	sched, err := s.st.GetSchedule(ctx, slug)
	if err != nil {
		return nil, err
	}
	job, err := s.st.CreateJob(ctx, sched.Slug)
	if err != nil {
		return nil, err
	}
	kind, queueName := routeFor(sched.Category)
	task, err := queue.NewTask(kind, jobPayload{ScheduleSlug: sched.Slug, JobID: job.ID})
	if err != nil {
		return nil, err
	}
	if err := s.broker.Enqueue(ctx, queueName, task); err != nil {
		return nil, err
	}
	return job, nil
}

// RunWorker consumes one queue until the context is cancelled.
func (s *Scheduler) RunWorker(ctx context.Context, queueName string) error {
	s.logger.Info("worker started", zap.String("queue", queueName))
	for {
		task, err := s.broker.Dequeue(ctx, queueName, dequeueTimeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Error("dequeue failed", zap.String("queue", queueName), zap.Error(err))
			continue
		}
		if task == nil {
			continue
		}
		if err := s.handleTask(ctx, task); err != nil {
			s.logger.Error("task failed",
				zap.String("kind", task.Kind),
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) handleTask(ctx context.Context, task *queue.Task) error {
	switch task.Kind {
	case queue.KindDiscoveryRun, queue.KindCompetitionScan:
		var p jobPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return eris.Wrap(err, "scheduler: decode job payload")
		}
		return s.RunScheduledJob(ctx, p.ScheduleSlug, p.JobID)
	case queue.KindEnrichProduct:
		var p productPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return eris.Wrap(err, "scheduler: decode product payload")
		}
		return s.enrichProductByID(ctx, p.ProductID)
	case queue.KindVerifyProduct:
		var p productPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return eris.Wrap(err, "scheduler: decode product payload")
		}
		return s.verifyProduct(ctx, p.ProductID)
	default:
		return eris.Errorf("scheduler: unknown task kind %s", task.Kind)
	}
}

// RunScheduledJob executes one schedule run through its full job
// lifecycle: pending to running to a terminal status, with run stats
// recorded and next_run advanced only on success.
func (s *Scheduler) RunScheduledJob(ctx context.Context, slug, jobID string) error {
	sched, err := s.st.GetSchedule(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.st.StartJob(ctx, jobID); err != nil {
		return err
	}

	var counters model.JobCounters
	var runErr error
	switch sched.Category {
	case model.CategoryCompetition:
		counters, runErr = s.runCompetition(ctx, sched)
	default:
		if s.disc == nil {
			runErr = eris.New("scheduler: no discovery runner configured")
		} else {
			counters, runErr = s.disc.Run(ctx, sched, jobID)
		}
	}

	completedAt := time.Now().UTC()
	switch {
	case eris.Is(runErr, discovery.ErrCancelled):
		if err := s.st.CompleteJob(ctx, jobID, model.JobCancelled, counters, runErr.Error()); err != nil {
			return err
		}
		s.logger.Info("job cancelled", zap.String("job_id", jobID), zap.String("schedule", slug))
		return nil
	case runErr != nil:
		if err := s.st.CompleteJob(ctx, jobID, model.JobFailed, counters, runErr.Error()); err != nil {
			return err
		}
		return runErr
	}

	if err := s.st.CompleteJob(ctx, jobID, model.JobCompleted, counters, ""); err != nil {
		return err
	}
	if err := s.st.RecordRunStats(ctx, slug, counters, completedAt, true); err != nil {
		return err
	}
	s.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.String("schedule", slug),
		zap.Int("products_found", counters.ProductsFound),
		zap.Int("products_new", counters.ProductsNew))
	return nil
}

func (s *Scheduler) runCompetition(ctx context.Context, sched *model.Schedule) (model.JobCounters, error) {
	if s.comp == nil {
		return model.JobCounters{}, eris.New("scheduler: no competition runner configured")
	}
	req := &competition.Request{SourceURL: sched.BaseURL}
	if sched.ProductTypeFilter != "" {
		req.ProductTypes = []model.ProductType{sched.ProductTypeFilter}
	}
	res := s.comp.Run(ctx, req)

	counters := model.JobCounters{
		PagesProcessed:  1,
		ProductsFound:   res.AwardsFound,
		ProductsNew:     res.SkeletonsCreated,
		ProductsUpdated: res.SkeletonsUpdated,
		ErrorCount:      len(res.Errors),
		AICalls:         1,
	}
	if res.AwardsFound == 0 && len(res.Errors) > 0 {
		return counters, eris.Errorf("scheduler: competition run: %s", strings.Join(res.Errors, "; "))
	}
	return counters, nil
}

// EnrichSkeletons sweeps the thinnest products and runs multi-source
// enrichment on each. Returns how many products were enriched.
func (s *Scheduler) EnrichSkeletons(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultEnrichLimit
	}
	candidates, err := s.st.ListEnrichmentCandidates(ctx, limit)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	var enriched atomic.Int64
	for i := range candidates {
		p := &candidates[i]
		g.Go(func() error {
			if err := s.enrichProduct(gctx, p); err != nil {
				s.logger.Warn("enrichment failed",
					zap.String("product_id", p.ID),
					zap.String("name", p.Name),
					zap.Error(err))
				return nil
			}
			enriched.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if enriched.Load() > 0 {
		s.logger.Info("skeletons enriched", zap.Int64("count", enriched.Load()))
	}
	return int(enriched.Load()), nil
}

// ProcessEnrichmentQueue drains up to limit queued product tasks.
func (s *Scheduler) ProcessEnrichmentQueue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	processed := 0
	for processed < limit {
		task, err := s.broker.Dequeue(ctx, queue.QueueEnrichment, drainTimeout)
		if err != nil {
			return processed, err
		}
		if task == nil {
			break
		}
		if err := s.handleTask(ctx, task); err != nil {
			s.logger.Warn("queued enrichment failed",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

// PruneStaleSources drops cached page content older than
// SourceRetention. Returns how many rows were removed.
func (s *Scheduler) PruneStaleSources(ctx context.Context) (int64, error) {
	n, err := s.st.DeleteStaleCrawledSources(ctx, SourceRetention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("stale sources pruned", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Scheduler) enrichProductByID(ctx context.Context, productID string) error {
	p, err := s.st.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	return s.enrichProduct(ctx, p)
}

func (s *Scheduler) enrichProduct(ctx context.Context, p *model.Product) error {
	if s.enricher == nil || s.writer == nil {
		return eris.New("scheduler: enrichment not configured")
	}
	res := s.enricher.ExtractProductMultiSource(ctx, &crawler.Request{
		ExpectedName: enrichName(p),
		ProductType:  p.ProductType,
	}, crawler.DefaultMaxSources)
	if !res.Success {
		return eris.Errorf("scheduler: enrich %s: %s", p.Name, strings.Join(res.Errors, "; "))
	}

	wr := s.writer.Write(ctx, &writer.Request{
		Data:            res.Data,
		SourceURL:       res.SourceURL,
		ProductType:     p.ProductType,
		DiscoverySource: "enrichment",
		SourceType:      res.SourceType,
		Confidences:     res.Confidences,
	})
	if wr.Error != "" {
		return eris.New(wr.Error)
	}
	return nil
}

func (s *Scheduler) verifyProduct(ctx context.Context, productID string) error {
	if s.verifier == nil {
		return eris.New("scheduler: no verifier configured")
	}
	report := s.verifier.VerifyProduct(ctx, productID)
	if !report.Success {
		return eris.Errorf("scheduler: verify %s: %s", productID, report.Error)
	}
	return nil
}

// enrichName builds the search name for a product: the brand joined
// with the name unless the name already carries it.
func enrichName(p *model.Product) string {
	brand, _ := p.Fields["brand"].(string)
	brand = strings.TrimSpace(brand)
	if brand == "" || strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(brand)) {
		return p.Name
	}
	return brand + " " + p.Name
}
