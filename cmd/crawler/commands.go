package main

import (
	"fmt"

	"github.com/alvmarrod/stream-weaver/internal/config"
	"github.com/alvmarrod/stream-weaver/internal/graph"
	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/alvmarrod/stream-weaver/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string

	seedName     string
	budget       int
	followsTop   int
	followersTop int
	passTop      int
	refresh      bool

	rankTop    int
	rankMetric string
	rankEntity string
	forceRank  bool

	focalName string
	threshold float64
	overlapK  int

	rootCmd = &cobra.Command{
		Use:           "crawler",
		Short:         "Sample the streamer follow graph and rank it",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	crawlCmd = &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the follow graph from a seed streamer",
		RunE:  runCrawl, // Defined in cmd_crawl.go
	}
	followsCmd = &cobra.Command{
		Use:   "follows",
		Short: "Fetch missing follow lists of the most viewed streamers in the corpus",
		RunE:  runFollows, // Defined in cmd_crawl.go
	}
	followersCmd = &cobra.Command{
		Use:   "followers",
		Short: "Fetch missing follower counts of the most viewed streamers in the corpus",
		RunE:  runFollowers, // Defined in cmd_crawl.go
	}

	rankCmd = &cobra.Command{
		Use:   "rank",
		Short: "Compute and show centrality rankings over the stored corpus",
		RunE:  runRank, // Defined in cmd_graph.go
	}
	commonCmd = &cobra.Command{
		Use:   "common",
		Short: "Print the common-follow similarity edges around a streamer as JSON",
		RunE:  runCommon, // Defined in cmd_graph.go
	}
	overlapCmd = &cobra.Command{
		Use:   "overlap",
		Short: "Print the who-follows-whom subgraph of a streamer's follows as JSON",
		RunE:  runOverlap, // Defined in cmd_graph.go
	}
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List past crawl and follow-up runs",
		RunE:  runRuns, // Defined in cmd_graph.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides db_path)")

	crawlCmd.Flags().StringVar(&seedName, "seed", "", "login of the seed streamer (overrides seed)")
	crawlCmd.Flags().IntVar(&budget, "budget", 0, "stop once this many streamers are retrieved, 0 for no limit (overrides budget)")
	crawlCmd.Flags().IntVar(&followsTop, "follows-top", 0, "fetch missing follows of the top K streamers after the crawl (overrides follows_top)")
	crawlCmd.Flags().IntVar(&followersTop, "followers-top", 0, "fetch follower counts of the top K streamers after the crawl (overrides followers_top)")

	followsCmd.Flags().IntVar(&passTop, "top", 0, "number of streamers to process, 0 for all")
	followsCmd.Flags().BoolVar(&refresh, "refresh", false, "fetch again follow lists that are already stored")
	followersCmd.Flags().IntVar(&passTop, "top", 0, "number of streamers to process, 0 for all")

	rankCmd.Flags().IntVar(&rankTop, "top", 10, "rows to show per metric, 0 for all")
	rankCmd.Flags().StringVar(&rankMetric, "metric", "", "compute a single metric")
	rankCmd.Flags().StringVar(&rankEntity, "streamer", "", "show the rank position of this streamer instead of the top rows")
	rankCmd.Flags().BoolVar(&forceRank, "force", false, "recompute even when stored rankings are current")

	commonCmd.Flags().StringVar(&focalName, "focal", "", "login of the focal streamer")
	commonCmd.Flags().Float64Var(&threshold, "threshold", graph.DefaultSimilarityThreshold, "minimum edge weight")
	_ = commonCmd.MarkFlagRequired("focal")

	overlapCmd.Flags().StringVar(&focalName, "focal", "", "login of the focal streamer")
	overlapCmd.Flags().IntVar(&overlapK, "k", graph.DefaultOverlapSize, "number of followed streamers to keep")
	_ = overlapCmd.MarkFlagRequired("focal")

	rootCmd.AddCommand(crawlCmd, followsCmd, followersCmd, rankCmd, commonCmd, overlapCmd, runsCmd)
}

// loadConfig reads the config file and applies the persistent overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	return cfg, nil
}

// openStorage opens the result store named by the config
func openStorage(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logrus.Infof("Database initialized: %s", cfg.DBPath)
	return store, nil
}
