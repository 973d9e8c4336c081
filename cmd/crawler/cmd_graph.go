package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/alvmarrod/stream-weaver/internal/graph"
	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// loadGraph builds the consistent follow graph of the stored corpus
func loadGraph(store *storage.Storage) (*graph.Graph, string, error) {
	corpus, err := store.LoadCorpus()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load corpus: %w", err)
	}
	if len(corpus) == 0 {
		return nil, "", errors.New("no corpus stored, run crawl first")
	}

	dangling := graph.Dangling(corpus)
	g, err := graph.New(graph.Filter(corpus))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build graph: %w", err)
	}
	logrus.Infof("Graph built: %d nodes, %d edges (%d dangling follows dropped)",
		g.NodeCount(), g.EdgeCount(), dangling)

	version, err := store.CorpusVersion()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read corpus version: %w", err)
	}
	return g, version, nil
}

// openGraph loads config, store and graph for the offline commands
func openGraph() (*storage.Storage, *graph.Graph, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, "", err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return nil, nil, "", err
	}
	g, version, err := loadGraph(store)
	if err != nil {
		store.Close()
		return nil, nil, "", err
	}
	return store, g, version, nil
}

func runRank(cmd *cobra.Command, _ []string) error {
	metricNames := graph.Metrics
	if rankMetric != "" {
		if !slices.Contains(graph.Metrics, rankMetric) {
			return fmt.Errorf("%w: %q (choose from %v)", graph.ErrUnknownMetric, rankMetric, graph.Metrics)
		}
		metricNames = []string{rankMetric}
	}

	store, g, version, err := openGraph()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	rankings, err := rankingsFor(ctx, store, g, version, metricNames, forceRank)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rankEntity != "" {
		id, ok := g.FindByName(rankEntity)
		if !ok {
			return fmt.Errorf("%w: %s", graph.ErrUnknownNode, rankEntity)
		}
		return printPositions(out, rankings, metricNames, id, rankEntity, g.NodeCount())
	}
	return printTop(out, g, rankings, metricNames, rankTop)
}

// rankingsFor returns the requested rankings, reusing stored ones computed
// over the same corpus version and recomputing the rest
func rankingsFor(ctx context.Context, store *storage.Storage, g *graph.Graph, version string, names []string, force bool) (map[string]*graph.Ranking, error) {
	rankings := make(map[string]*graph.Ranking, len(names))
	var stale []string

	for _, name := range names {
		if force {
			stale = append(stale, name)
			continue
		}
		scores, stored, err := store.LoadMetric(name)
		switch {
		case errors.Is(err, storage.ErrMetricNotFound):
			stale = append(stale, name)
		case err != nil:
			return nil, err
		case stored != version:
			logrus.Infof("Stored %s ranking is stale, recomputing", name)
			stale = append(stale, name)
		default:
			rankings[name] = graph.NewRanking(name, scores)
		}
	}
	if len(stale) == 0 {
		return rankings, nil
	}

	var computed map[string]*graph.Ranking
	if len(stale) == len(graph.Metrics) {
		all, err := graph.ComputeAll(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("failed to compute metrics: %w", err)
		}
		computed = all
	} else {
		computed = make(map[string]*graph.Ranking, len(stale))
		for _, name := range stale {
			r, err := graph.Compute(ctx, g, name)
			if err != nil {
				return nil, fmt.Errorf("failed to compute %s: %w", name, err)
			}
			computed[name] = r
		}
	}

	for _, name := range stale {
		r := computed[name]
		if err := store.SaveMetric(name, version, r.Scores); err != nil {
			return nil, err
		}
		rankings[name] = r
	}
	return rankings, nil
}

func printTop(out io.Writer, g *graph.Graph, rankings map[string]*graph.Ranking, names []string, n int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "%s\n", name)
		for i, s := range rankings[name].Top(n) {
			label := s.EntityID
			if e, ok := g.Entity(s.EntityID); ok {
				label = e.Name
			}
			fmt.Fprintf(w, "  %d\t%s\t%.6g\n", i+1, label, s.Score)
		}
	}
	return w.Flush()
}

func printPositions(out io.Writer, rankings map[string]*graph.Ranking, names []string, id, name string, total int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\n", name)
	for _, metric := range names {
		r := rankings[metric]
		score, _ := r.Score(id)
		fmt.Fprintf(w, "  %s\t%d/%d\t%.6g\n", metric, r.Position(id), total, score)
	}
	return w.Flush()
}

func runCommon(cmd *cobra.Command, _ []string) error {
	return printView(cmd.OutOrStdout(), func(g *graph.Graph, id string) ([]graph.WeightedEdge, error) {
		return graph.CommonFollowSimilarity(g, id, threshold)
	})
}

func runOverlap(cmd *cobra.Command, _ []string) error {
	if overlapK < 0 {
		return errors.New("--k must be non-negative")
	}
	return printView(cmd.OutOrStdout(), func(g *graph.Graph, id string) ([]graph.WeightedEdge, error) {
		return graph.DirectFollowOverlap(g, id, overlapK)
	})
}

// printView builds a derived view around --focal and writes it as JSON,
// with identifiers replaced by streamer names
func printView(out io.Writer, view func(*graph.Graph, string) ([]graph.WeightedEdge, error)) error {
	store, g, _, err := openGraph()
	if err != nil {
		return err
	}
	defer store.Close()

	id, ok := g.FindByName(focalName)
	if !ok {
		return fmt.Errorf("%w: %s", graph.ErrUnknownNode, focalName)
	}

	edges, err := view(g, id)
	if err != nil {
		return err
	}
	for i := range edges {
		edges[i].Source = nameOf(g, edges[i].Source)
		edges[i].Target = nameOf(g, edges[i].Target)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(edges)
}

func nameOf(g *graph.Graph, id string) string {
	if e, ok := g.Entity(id); ok {
		return e.Name
	}
	return id
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tKIND\tSTARTED\tDURATION\tITERATIONS\tCORPUS\tREASON")
	for _, r := range runs {
		fmt.Fprintf(w, "%.8s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Kind, r.StartTime.Format(time.DateTime), r.EndTime.Sub(r.StartTime).Round(time.Second),
			r.Iterations, r.CorpusSize, r.TerminationReason)
	}
	return w.Flush()
}
