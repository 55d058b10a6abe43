package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/config"
	dbRedis "github.com/JugalBoro/kloth.me/internal/db/redis"
	"github.com/JugalBoro/kloth.me/internal/evaluation"
	qdrantIndex "github.com/JugalBoro/kloth.me/internal/index/qdrant"
	logpkg "github.com/JugalBoro/kloth.me/internal/logger"
	"github.com/JugalBoro/kloth.me/internal/metrics"
	productrepo "github.com/JugalBoro/kloth.me/internal/repository/product"
	"github.com/JugalBoro/kloth.me/internal/retrieval"
	openaiEmb "github.com/JugalBoro/kloth.me/internal/transport/openai"
)

func main() {
	var (
		benchmarkPath   = flag.String("benchmark", "", "benchmark queries file (default from config)")
		groundTruthPath = flag.String("ground-truth", "", "ground truth file (default from config)")
		imageRoot       = flag.String("images", "", "root directory for query image paths")
		saveBaseline    = flag.String("save-baseline", "", "persist the run result to this baseline file")
		compare         = flag.String("compare", "", "diff the run against this baseline file")
		generate        = flag.Int("generate", 0, "generate a benchmark with N queries instead of evaluating")
		seed            = flag.Int64("seed", 42, "benchmark generation seed")
		topK            = flag.Int("top-k", 0, "results per query (default from config)")
	)
	flag.Parse()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if *benchmarkPath == "" {
		*benchmarkPath = cfg.Evaluation.BenchmarkPath
	}
	if *groundTruthPath == "" {
		*groundTruthPath = cfg.Evaluation.GroundTruthPath
	}
	if *topK <= 0 {
		*topK = cfg.Search.DefaultTopK
	}

	ctx := context.Background()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Redis.Addrs,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		fatalf("failed to create product store: %v", err)
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Redis.ReadinessTimeout)*time.Second); err != nil {
		fatalf("product store not ready: %v", err)
	}

	products := productrepo.New(store)

	if *generate > 0 {
		runGenerate(ctx, products, *benchmarkPath, *groundTruthPath, *generate, *seed, logger)
		return
	}

	index, err := qdrantIndex.New(qdrantIndex.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
		VectorSize: uint64(cfg.Embedding.Dimensions),
		Timeout:    time.Duration(cfg.Qdrant.TimeoutSec) * time.Second,
	})
	if err != nil {
		fatalf("failed to create vector index: %v", err)
	}
	defer func() { _ = index.Close() }()

	metrics.Register()

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:   cfg.Embedding.APIKey,
		BaseURL:  cfg.Embedding.BaseURL,
		Model:    cfg.Embedding.Model,
		Provider: cfg.Embedding.Provider,
		Timeout:  time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:   logger,
	})

	engine := retrieval.New(index, products, embedder, embedder).
		WithOptions(retrieval.Options{
			ScoreThreshold:        cfg.Search.ScoreThreshold,
			FilterOverfetchFactor: cfg.Search.FilterOverfetchFactor,
		})

	bench, err := evaluation.LoadBenchmark(*benchmarkPath)
	if err != nil {
		fatalf("load benchmark: %v", err)
	}
	truth, err := evaluation.LoadGroundTruth(*groundTruthPath)
	if err != nil {
		logger.Warn("ground truth unavailable, using benchmark expected ids", zap.Error(err))
		truth = nil
	}

	evaluator := evaluation.NewEvaluator(engine, logger, *topK, *imageRoot)
	result, err := evaluator.Run(ctx, bench, truth)
	if err != nil {
		fatalf("evaluation run: %v", err)
	}

	printResult(result)

	if *saveBaseline != "" {
		if err := evaluation.SaveBaseline(*saveBaseline, result); err != nil {
			fatalf("save baseline: %v", err)
		}
		fmt.Printf("\nbaseline saved to %s\n", *saveBaseline)
	}

	if *compare != "" {
		baseline, err := evaluation.LoadBaseline(*compare)
		if err != nil {
			fatalf("load baseline: %v", err)
		}
		deltas := evaluation.Compare(result.OverallMetrics, baseline.OverallMetrics)
		printComparison(deltas)
		if evaluation.HasRegression(deltas) {
			fmt.Println("\nFAIL: regression detected")
			os.Exit(1)
		}
		fmt.Println("\nPASS: no regression")
	}
}

func runGenerate(
	ctx context.Context, products *productrepo.Repo,
	benchmarkPath, groundTruthPath string, numQueries int, seed int64,
	logger *zap.Logger,
) {
	all, err := products.All(ctx)
	if err != nil {
		fatalf("load products: %v", err)
	}

	bench, truth, err := evaluation.GenerateBenchmark(all, numQueries, seed)
	if err != nil {
		fatalf("generate benchmark: %v", err)
	}
	if err := writeJSONFile(benchmarkPath, bench); err != nil {
		fatalf("write benchmark: %v", err)
	}
	if err := writeJSONFile(groundTruthPath, truth); err != nil {
		fatalf("write ground truth: %v", err)
	}
	logger.Info("benchmark generated",
		zap.Int("queries", len(bench.Queries)),
		zap.Int64("seed", seed),
		zap.String("benchmark", benchmarkPath),
		zap.String("ground_truth", groundTruthPath),
	)
}

func printResult(result *evaluation.RunResult) {
	fmt.Printf("evaluation run %s\n", result.Timestamp)
	fmt.Printf("queries: %d total, %d failed\n\n", result.Summary.TotalQueries, result.Summary.FailedQueries)

	fmt.Println("overall:")
	printReport(result.OverallMetrics)
	for _, typ := range []string{evaluation.TypeText, evaluation.TypeImage, evaluation.TypeCombined} {
		report, ok := result.ByTypeMetrics[typ]
		if !ok {
			continue
		}
		fmt.Printf("\n%s (%d queries):\n", typ, result.Summary.ByType[typ])
		printReport(report)
	}
}

func printReport(r evaluation.Report) {
	fmt.Printf("  mrr:             %.4f\n", r.MRR)
	fmt.Printf("  precision@1/5/10: %.4f / %.4f / %.4f\n", r.PrecisionAt1, r.PrecisionAt5, r.PrecisionAt10)
	fmt.Printf("  recall@5/10/20:   %.4f / %.4f / %.4f\n", r.RecallAt5, r.RecallAt10, r.RecallAt20)
	fmt.Printf("  average rank:    %v\n", r.AverageRank)
	if r.CategoryAccuracy != nil {
		fmt.Printf("  category acc:    %.4f\n", *r.CategoryAccuracy)
	}
}

func printComparison(deltas []evaluation.MetricDelta) {
	fmt.Println("\ncomparison vs baseline:")
	for _, d := range deltas {
		fmt.Printf("  %-18s %.4f -> %.4f  (%+.1f%%)  %s\n",
			d.Metric, d.Baseline, d.Current, d.RelativeDelta*100, d.Status)
	}
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
