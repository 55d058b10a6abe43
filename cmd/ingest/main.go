package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/config"
	dbRedis "github.com/JugalBoro/kloth.me/internal/db/redis"
	"github.com/JugalBoro/kloth.me/internal/domain"
	qdrantIndex "github.com/JugalBoro/kloth.me/internal/index/qdrant"
	logpkg "github.com/JugalBoro/kloth.me/internal/logger"
	"github.com/JugalBoro/kloth.me/internal/metrics"
	productrepo "github.com/JugalBoro/kloth.me/internal/repository/product"
	openaiEmb "github.com/JugalBoro/kloth.me/internal/transport/openai"
)

func main() {
	var (
		productsPath = flag.String("products", "", "products JSON file (array of product records)")
		imageRoot    = flag.String("images", "", "root directory for product image paths")
		batchSize    = flag.Int("batch", 32, "embedding batch size")
		skipImages   = flag.Bool("skip-images", false, "index text vectors only")
	)
	flag.Parse()

	if *productsPath == "" {
		fatalf("-products is required")
	}

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

	products, err := loadProducts(*productsPath)
	if err != nil {
		fatalf("load products: %v", err)
	}
	logger.Info("Loaded products", zap.Int("count", len(products)))

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

	if err := index.EnsureCollection(ctx); err != nil {
		fatalf("ensure collection: %v", err)
	}

	metrics.Register()

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:   cfg.Embedding.APIKey,
		BaseURL:  cfg.Embedding.BaseURL,
		Model:    cfg.Embedding.Model,
		Provider: cfg.Embedding.Provider,
		Timeout:  time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:   logger,
	})

	repo := productrepo.New(store)
	if err := repo.InsertMany(ctx, products); err != nil {
		fatalf("insert products: %v", err)
	}
	logger.Info("Product records stored")

	for start := 0; start < len(products); start += *batchSize {
		end := start + *batchSize
		if end > len(products) {
			end = len(products)
		}
		batch := products[start:end]

		if err := indexTextBatch(ctx, embedder, index, batch); err != nil {
			fatalf("index text batch %d-%d: %v", start, end, err)
		}
		if !*skipImages {
			indexImageBatch(ctx, embedder, index, batch, *imageRoot, logger)
		}
		logger.Info("Indexed batch", zap.Int("from", start), zap.Int("to", end))
	}

	count, err := repo.Count(ctx)
	if err == nil {
		logger.Info("Ingestion complete", zap.Int("products_in_store", count))
	}
}

func loadProducts(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%s contains no products", path)
	}
	for i, p := range products {
		if p.ProductID == "" {
			return nil, fmt.Errorf("product %d has no product_id", i)
		}
	}
	return products, nil
}

func indexTextBatch(
	ctx context.Context, embedder *openaiEmb.Embedder, index *qdrantIndex.Index,
	batch []domain.Product,
) error {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.Description
	}
	res, err := embedder.BatchEmbedTexts(ctx, texts)
	if err != nil {
		return err
	}

	records := make([]qdrantIndex.VectorRecord, len(batch))
	for i, p := range batch {
		records[i] = qdrantIndex.VectorRecord{
			ProductID: p.ProductID,
			Modality:  domain.ModalityText,
			Vector:    res.Embeddings[i],
		}
	}
	return index.Upsert(ctx, records)
}

// indexImageBatch embeds product images one by one; a missing or failing
// image skips that product's image vector rather than aborting the run.
func indexImageBatch(
	ctx context.Context, embedder *openaiEmb.Embedder, index *qdrantIndex.Index,
	batch []domain.Product, imageRoot string, logger *zap.Logger,
) {
	records := make([]qdrantIndex.VectorRecord, 0, len(batch))
	for _, p := range batch {
		if p.ImagePath == "" {
			continue
		}
		path := p.ImagePath
		if !filepath.IsAbs(path) && imageRoot != "" {
			path = filepath.Join(imageRoot, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping product image", zap.String("product_id", p.ProductID), zap.Error(err))
			continue
		}
		res, err := embedder.EmbedImage(ctx, data)
		if err != nil {
			logger.Warn("image embedding failed", zap.String("product_id", p.ProductID), zap.Error(err))
			continue
		}
		records = append(records, qdrantIndex.VectorRecord{
			ProductID: p.ProductID,
			Modality:  domain.ModalityImage,
			Vector:    res.Embedding,
		})
	}
	if len(records) == 0 {
		return
	}
	if err := index.Upsert(ctx, records); err != nil {
		logger.Warn("image vector upsert failed", zap.Error(err))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
