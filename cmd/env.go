package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spirits-cli/internal/budget"
	"github.com/sells-group/spirits-cli/internal/competition"
	"github.com/sells-group/spirits-cli/internal/crawler"
	"github.com/sells-group/spirits-cli/internal/discovery"
	"github.com/sells-group/spirits-cli/internal/domains"
	"github.com/sells-group/spirits-cli/internal/queue"
	"github.com/sells-group/spirits-cli/internal/scheduler"
	"github.com/sells-group/spirits-cli/internal/store"
	"github.com/sells-group/spirits-cli/internal/verify"
	"github.com/sells-group/spirits-cli/internal/writer"
	"github.com/sells-group/spirits-cli/pkg/extractor"
	"github.com/sells-group/spirits-cli/pkg/scrapingbee"
	"github.com/sells-group/spirits-cli/pkg/serpapi"
)

// appEnv wires the pipeline components for one command invocation.
type appEnv struct {
	st          store.Store
	broker      *queue.Broker
	registry    *domains.Registry
	crawler     *crawler.Crawler
	writer      *writer.Writer
	discovery   *discovery.Orchestrator
	verify      *verify.Pipeline
	competition *competition.Orchestrator
	scheduler   *scheduler.Scheduler
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv builds the component graph. withQueue connects Redis so
// writes can dispatch follow-up work; one-shot commands run without
// it.
func initEnv(ctx context.Context, withQueue bool) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{st: st}
	if withQueue {
		broker, err := queue.NewBroker(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			st.Close()
			return nil, err
		}
		env.broker = broker
	}

	serpClient := serpapi.NewClient(cfg.SerpAPI.Key, serpapi.WithBaseURL(cfg.SerpAPI.BaseURL))
	beeClient := scrapingbee.NewClient(cfg.ScrapingBee.Key, scrapingbee.WithBaseURL(cfg.ScrapingBee.BaseURL))
	extractClient := extractor.NewClient(cfg.Extractor.Token, extractor.WithBaseURL(cfg.Extractor.BaseURL))

	env.registry = domains.NewRegistry(cfg.Domains)
	tracker := budget.NewTracker(cfg.Budget)

	env.crawler = crawler.New(st, beeClient, extractClient, serpClient, env.registry, tracker).
		WithThreshold(cfg.Crawler.MatchThreshold)

	var verifyDispatch writer.Dispatcher
	var enrichDispatch competition.Enqueuer
	if env.broker != nil {
		d := scheduler.NewDispatcher(env.broker)
		verifyDispatch = d
		enrichDispatch = d
	}
	env.writer = writer.New(st, verifyDispatch)

	env.discovery = discovery.New(st, serpClient, extractClient, env.crawler, env.writer, env.registry, tracker)
	env.verify = verify.New(st, serpClient, env.crawler)
	env.competition = competition.New(st, extractClient, env.writer, env.crawler, env.registry, enrichDispatch)
	env.scheduler = scheduler.New(st, env.broker, env.discovery, env.competition, env.crawler, env.writer, env.verify)

	return env, nil
}

func (e *appEnv) Close() {
	if e.broker != nil {
		_ = e.broker.Close()
	}
	_ = e.st.Close()
}
