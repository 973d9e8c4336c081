package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/stream-weaver/internal/config"
	"github.com/alvmarrod/stream-weaver/internal/crawler"
	"github.com/alvmarrod/stream-weaver/internal/fetch"
	"github.com/alvmarrod/stream-weaver/internal/memory"
	"github.com/alvmarrod/stream-weaver/internal/metrics"
	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/alvmarrod/stream-weaver/internal/upstream"
	"github.com/alvmarrod/stream-weaver/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// session wires everything an online command needs
type session struct {
	cfg      *config.Config
	store    *storage.Storage
	tracker  *metrics.Tracker
	resolver *fetch.Resolver
	cache    *fetch.FollowCache
	crawler  *crawler.Crawler
	runID    string

	stopProgress chan struct{}
	server       *http.Server
}

// timedFollows records the duration of every follow fetch
type timedFollows struct {
	*fetch.FollowFetcher
	tracker *metrics.Tracker
}

func (t timedFollows) Follows(ctx context.Context, id string) []string {
	start := time.Now()
	follows := t.FollowFetcher.Follows(ctx, id)
	t.tracker.RecordFetchTime(time.Since(start))
	return follows
}

func (t timedFollows) Refetch(ctx context.Context, id string) []string {
	start := time.Now()
	follows := t.FollowFetcher.Refetch(ctx, id)
	t.tracker.RecordFetchTime(time.Since(start))
	return follows
}

func newSession(cfg *config.Config) (*session, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	tracker := metrics.NewTracker(runID)

	api := upstream.NewHelixClient(cfg)
	cache := fetch.NewFollowCache(cfg.FollowCacheTTL())
	follows := timedFollows{
		FollowFetcher: fetch.NewFollowFetcher(api, cache),
		tracker:       tracker,
	}
	resolver := fetch.NewResolver(api)

	s := &session{
		cfg:          cfg,
		store:        store,
		tracker:      tracker,
		resolver:     resolver,
		cache:        cache,
		crawler:      crawler.NewCrawler(cfg, follows, resolver, store, tracker.Record),
		runID:        runID,
		stopProgress: make(chan struct{}),
	}

	if cfg.MetricsAddr != "" {
		s.server = serveMetrics(cfg.MetricsAddr, tracker.Registry())
	}
	go s.logProgress(10 * time.Second)

	logrus.Infof("Stream Weaver v%s run %s", version.Version, runID)
	return s, nil
}

// logProgress prints tracker progress until the session closes
func (s *session) logProgress(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logrus.Infof("%s | Cached follow lists: %d", s.tracker.LogProgress(), s.cache.Len())
		case <-s.stopProgress:
			return
		}
	}
}

// record stores the outcome of one pass in the run history
func (s *session) record(kind string, start time.Time, result crawler.Result) {
	run := storage.CrawlRun{
		RunID:             s.runID,
		Kind:              kind,
		StartTime:         start,
		EndTime:           time.Now(),
		Iterations:        result.Iterations,
		CorpusSize:        len(result.Corpus),
		TerminationReason: result.Reason,
	}
	if err := s.store.RecordRun(run); err != nil {
		logrus.Errorf("Failed to record %s run: %v", kind, err)
	}
}

// close writes the metrics report and releases everything the session holds
func (s *session) close(reason string) {
	close(s.stopProgress)

	logrus.Info("Final stats: " + s.tracker.LogProgress())
	if err := s.tracker.WriteToFile(s.cfg.MetricsPath, reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", s.cfg.MetricsPath)
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			logrus.Warnf("Metrics server shutdown: %v", err)
		}
	}

	if err := s.store.Close(); err != nil {
		logrus.Errorf("Failed to close database: %v", err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logrus.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}

// signalContext is cancelled on SIGINT or SIGTERM. The crawl loop notices it
// at the next iteration boundary and flushes before returning.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seedName
	}
	if flags.Changed("budget") {
		cfg.Budget = budget
	}
	if flags.Changed("follows-top") {
		cfg.FollowsTop = followsTop
	}
	if flags.Changed("followers-top") {
		cfg.FollowersTop = followersTop
	}
	if cfg.Seed == "" {
		return errors.New("no seed streamer: set seed in the config or pass --seed")
	}
	if cfg.Budget < 0 || cfg.FollowsTop < 0 || cfg.FollowersTop < 0 {
		return errors.New("budget and top counts must be non-negative")
	}

	s, err := newSession(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	reason, err := s.crawl(ctx)
	s.close(reason)
	return err
}

// crawl runs the main crawl followed by the configured follow-up passes
func (s *session) crawl(ctx context.Context) (string, error) {
	seed, err := s.resolver.ResolveOne(ctx, "", s.cfg.Seed)
	if err != nil {
		return "seed_lookup_failed", fmt.Errorf("failed to resolve seed %q: %w", s.cfg.Seed, err)
	}
	s.tracker.Record(0, 1, 0, 0, 0)

	start := time.Now()
	result, err := s.crawler.Run(ctx, seed)
	if errors.Is(err, crawler.ErrSeedFiltered) {
		return "seed_filtered", err
	}
	s.record(storage.RunCrawl, start, result)
	if err != nil {
		return result.Reason, err
	}

	if s.cfg.FollowsTop > 0 && ctx.Err() == nil {
		start = time.Now()
		result, err = s.crawler.FetchFollowsOfTop(ctx, result.Corpus, s.cfg.FollowsTop)
		s.record(storage.RunFollows, start, result)
		if err != nil {
			return result.Reason, err
		}
	}

	if s.cfg.FollowersTop > 0 && ctx.Err() == nil {
		start = time.Now()
		result, err = s.crawler.FetchFollowerCountsOfTop(ctx, result.Corpus, s.cfg.FollowersTop)
		s.record(storage.RunFollowers, start, result)
		if err != nil {
			return result.Reason, err
		}
	}

	if ctx.Err() != nil {
		return crawler.ReasonInterrupted, nil
	}
	return result.Reason, nil
}

func runFollows(_ *cobra.Command, _ []string) error {
	if refresh {
		return runPass(storage.RunFollows, func(ctx context.Context, c *crawler.Crawler, corpus []storage.Entity) (crawler.Result, error) {
			return c.RefreshFollowsOfTop(ctx, corpus, passTop)
		})
	}
	return runPass(storage.RunFollows, func(ctx context.Context, c *crawler.Crawler, corpus []storage.Entity) (crawler.Result, error) {
		return c.FetchFollowsOfTop(ctx, corpus, passTop)
	})
}

func runFollowers(_ *cobra.Command, _ []string) error {
	return runPass(storage.RunFollowers, func(ctx context.Context, c *crawler.Crawler, corpus []storage.Entity) (crawler.Result, error) {
		return c.FetchFollowerCountsOfTop(ctx, corpus, passTop)
	})
}

// runPass runs one follow-up pass over the stored corpus
func runPass(kind string, pass func(context.Context, *crawler.Crawler, []storage.Entity) (crawler.Result, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if passTop < 0 {
		return errors.New("--top must be non-negative")
	}

	s, err := newSession(cfg)
	if err != nil {
		return err
	}

	corpus := memory.NewCorpus()
	if err := corpus.LoadFromStorage(s.store); err != nil {
		s.close("load_failed")
		return err
	}
	entities, edges := corpus.GetStats()
	if entities == 0 {
		s.close(crawler.ReasonNothingToFetch)
		return fmt.Errorf("no corpus stored in %s, run crawl first", cfg.DBPath)
	}
	logrus.Infof("Corpus has %d entities and %d follow edges", entities, edges)

	ctx, stop := signalContext()
	defer stop()

	start := time.Now()
	result, err := pass(ctx, s.crawler, corpus.Entities())
	s.record(kind, start, result)
	s.close(result.Reason)
	return err
}
