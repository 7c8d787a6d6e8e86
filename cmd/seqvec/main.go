package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/cache"
	"github.com/raaihank/seqvec/internal/config"
	"github.com/raaihank/seqvec/internal/corpus"
	"github.com/raaihank/seqvec/internal/export"
	"github.com/raaihank/seqvec/internal/logger"
	"github.com/raaihank/seqvec/internal/model"
	"github.com/raaihank/seqvec/internal/server"
	"github.com/raaihank/seqvec/internal/store"
	"github.com/raaihank/seqvec/internal/train"
	"github.com/raaihank/seqvec/internal/vocab"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to configuration file")
		corpusPath   = flag.String("corpus", "", "Corpus file (overrides config)")
		snapshotPath = flag.String("model", "", "Model snapshot path (overrides config)")
		serve        = flag.Bool("serve", false, "Start the query server after loading or training the model")
		doExport     = flag.Bool("export", false, "Export trained vectors to the database store")
		showStats    = flag.Bool("stats", false, "Show store and cache statistics and exit")
		probeA       = flag.String("probe-a", "", "First probe label (overrides config)")
		probeB       = flag.String("probe-b", "", "Second probe label (overrides config)")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("seqvec %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *corpusPath, *snapshotPath, *probeA, *probeB)

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting seqvec",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := initializeServices(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer svc.cleanup()

	if *showStats {
		if err := reportStats(ctx, svc, log); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	if *serve {
		runServe(ctx, cfg, log, svc, sigChan)
		return
	}

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	table, err := runTraining(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal("Training failed", zap.Error(err))
	}

	if err := table.Save(cfg.Model.SnapshotPath); err != nil {
		log.Fatal("Failed to save model snapshot", zap.Error(err))
	}
	log.Info("Model snapshot saved", zap.String("path", cfg.Model.SnapshotPath))

	score, err := table.Similarity(cfg.Model.ProbeA, cfg.Model.ProbeB)
	log.WithComponent("model").LogSimilarity(cfg.Model.ProbeA, cfg.Model.ProbeB, score, err)

	if *doExport {
		if svc.vectorStore == nil {
			log.Fatal("Export requested but store is not enabled in configuration")
		}
		exporter := export.NewExporter(table, svc.vectorStore, svc.vectorCache, &export.Config{
			BatchSize:   cfg.Store.BatchSize,
			CreateIndex: cfg.Store.CreateIndex,
			WarmTopK:    cfg.Cache.WarmTopK,
		}, log.WithComponent("export").Logger)
		if _, err := exporter.Run(ctx); err != nil {
			log.Fatal("Export failed", zap.Error(err))
		}
	}

	log.Info("seqvec completed successfully")
}

// applyOverrides applies command-line overrides onto the loaded configuration
func applyOverrides(cfg *config.Config, corpusPath, snapshotPath, probeA, probeB string) {
	if corpusPath != "" {
		cfg.Corpus.Path = corpusPath
	}
	if snapshotPath != "" {
		cfg.Model.SnapshotPath = snapshotPath
	}
	if probeA != "" {
		cfg.Model.ProbeA = probeA
	}
	if probeB != "" {
		cfg.Model.ProbeB = probeB
	}
}

// services holds the optional storage backends
type services struct {
	vectorStore *store.Store
	vectorCache *cache.VectorCache
}

func (s *services) cleanup() {
	if s.vectorStore != nil {
		s.vectorStore.Close()
	}
	if s.vectorCache != nil {
		s.vectorCache.Close()
	}
}

func initializeServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	svc := &services{}

	if cfg.Store.Enabled {
		log.Info("Initializing vector store...")
		vectorStore, err := store.NewStore(&cfg.Store, cfg.Training.VectorSize, log.WithComponent("store").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		svc.vectorStore = vectorStore
	}

	if cfg.Cache.Enabled {
		log.Info("Initializing vector cache...")
		vectorCache, err := cache.NewVectorCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector cache: %w", err)
		}
		svc.vectorCache = vectorCache
	}

	return svc, nil
}

// runTraining builds the vocabulary from the corpus and trains the lookup
// table. The progress callback is optional.
func runTraining(ctx context.Context, cfg *config.Config, log *logger.Logger, progress func(train.Event)) (*model.Table, error) {
	tokenizer := corpus.NewTokenizer(corpus.Policy{
		Lowercase:  cfg.Corpus.Lowercase,
		StripPunct: cfg.Corpus.StripPunct,
	})

	format := corpus.Format(cfg.Corpus.Format)
	if format == "" || format == "auto" {
		format = corpus.DetectFormat(cfg.Corpus.Path)
	}

	it, err := corpus.NewFileIterator(cfg.Corpus.Path, format, tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer it.Close()

	corpusLog := log.WithCorpus(cfg.Corpus.Path)
	corpusLog.Info("Building vocabulary",
		zap.String("format", string(format)),
		zap.Int("min_count", cfg.Training.MinCount))

	builder := vocab.NewBuilder(cfg.Training.MinCount, corpusLog.WithComponent("vocab").Logger)
	vc, err := builder.Build(it)
	if err != nil {
		return nil, fmt.Errorf("failed to build vocabulary: %w", err)
	}

	table, err := model.New(vc, cfg.Training.VectorSize, cfg.Training.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup table: %w", err)
	}

	trainer, err := train.New(table, train.Options{
		Algorithm:      train.Algorithm(cfg.Training.Algorithm),
		Objective:      train.Objective(cfg.Training.Objective),
		Window:         cfg.Training.Window,
		LearningRate:   cfg.Training.LearningRate,
		UseAdaGrad:     cfg.Training.UseAdaGrad,
		BatchSize:      cfg.Training.BatchSize,
		Iterations:     cfg.Training.Iterations,
		Epochs:         cfg.Training.Epochs,
		Negative:       cfg.Training.Negative,
		Sample:         cfg.Training.Sample,
		TrainElements:  cfg.Training.TrainElements,
		TrainSequences: cfg.Training.TrainSequences,
		ResetModel:     cfg.Training.ResetModel,
		Workers:        cfg.Training.Workers,
		Seed:           cfg.Training.Seed,
	}, corpusLog.WithComponent("train").Logger, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to create trainer: %w", err)
	}

	stats, err := trainer.Train(ctx, it)
	if err != nil {
		return nil, err
	}

	corpusLog.Info("Training finished",
		zap.Int64("words_trained", stats.WordsTrained),
		zap.Int64("sequences", stats.Sequences),
		zap.Duration("duration", stats.Duration))

	return table, nil
}

// loadOrTrain loads the snapshot when present, otherwise trains from the
// corpus and saves a fresh snapshot.
func loadOrTrain(ctx context.Context, cfg *config.Config, log *logger.Logger, progress func(train.Event)) (*model.Table, error) {
	if _, err := os.Stat(cfg.Model.SnapshotPath); err == nil {
		log.Info("Loading model snapshot", zap.String("path", cfg.Model.SnapshotPath))
		return model.Load(cfg.Model.SnapshotPath, cfg.Training.Seed)
	}

	log.Info("No snapshot found, training from corpus",
		zap.String("corpus", cfg.Corpus.Path),
		zap.String("snapshot", cfg.Model.SnapshotPath))

	table, err := runTraining(ctx, cfg, log, progress)
	if err != nil {
		return nil, err
	}
	if err := table.Save(cfg.Model.SnapshotPath); err != nil {
		return nil, fmt.Errorf("failed to save model snapshot: %w", err)
	}
	return table, nil
}

// runServe starts the query server first so dashboard clients can follow
// training progress live, prepares the model, then serves queries until a
// shutdown signal arrives. Query endpoints answer 503 until the model is
// installed.
func runServe(ctx context.Context, cfg *config.Config, log *logger.Logger, svc *services, shutdown chan os.Signal) {
	srv, err := server.New(cfg, log, nil, svc.vectorStore, svc.vectorCache)
	if err != nil {
		log.Fatal("Failed to create query server", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	progress := func(e train.Event) {
		srv.Hub().BroadcastEvent(server.Event{
			Type:      server.EventTypeTrainingProgress,
			Timestamp: time.Now(),
			Data: server.TrainingProgressEvent{
				Epoch:        e.Epoch,
				Epochs:       e.Epochs,
				WordsTrained: e.WordsTrained,
				TotalWords:   e.TotalWords,
				Alpha:        e.Alpha,
				Percent:      float64(e.WordsTrained) / float64(e.TotalWords) * 100,
			},
		})
	}

	trainCtx, cancelTrain := context.WithCancel(ctx)
	defer cancelTrain()

	ready := make(chan error, 1)
	go func() {
		table, err := loadOrTrain(trainCtx, cfg, log, progress)
		if err != nil {
			ready <- err
			return
		}
		srv.SetTable(table)
		srv.Hub().BroadcastEvent(server.Event{
			Type:      server.EventTypeSystemStatus,
			Timestamp: time.Now(),
			Data: server.SystemStatusEvent{
				Status:        "ready",
				VocabSize:     table.Vocab().Size(),
				VectorSize:    table.Dim(),
				SequenceCount: table.SequenceCount(),
			},
		})
		ready <- nil
	}()

	for {
		select {
		case err := <-serverErrors:
			log.Error("Server error", zap.Error(err))
			return
		case err := <-ready:
			if err != nil {
				log.Error("Failed to prepare model for serving", zap.Error(err))
				stopServer(srv, log)
				os.Exit(1)
			}
			ready = nil
		case sig := <-shutdown:
			log.Info("Shutdown signal received", zap.String("signal", sig.String()))
			cancelTrain()
			stopServer(srv, log)
			return
		}
	}
}

// stopServer shuts the query server down with a bounded grace period.
func stopServer(srv *server.Server, log *logger.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Failed to shutdown server gracefully", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Server shutdown complete")
}

// reportStats prints store and cache statistics
func reportStats(ctx context.Context, svc *services, log *logger.Logger) error {
	if svc.vectorStore == nil && svc.vectorCache == nil {
		return fmt.Errorf("neither store nor cache is enabled in configuration")
	}

	if svc.vectorStore != nil {
		stats, err := svc.vectorStore.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get store stats: %w", err)
		}
		log.Info("Store statistics",
			zap.Int64("total_vectors", stats.TotalVectors),
			zap.Int64("total_count", stats.TotalCount),
			zap.Int("dimensions", stats.Dimensions))
	}

	if svc.vectorCache != nil {
		stats, err := svc.vectorCache.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get cache stats: %w", err)
		}
		log.Info("Cache statistics",
			zap.Int64("hits", stats.Hits),
			zap.Int64("misses", stats.Misses),
			zap.Float64("hit_rate", stats.HitRate),
			zap.Int64("total_keys", stats.TotalKeys),
			zap.Int64("memory_usage_bytes", stats.MemoryUsage))
	}

	return nil
}
