package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/marcusv/ionbridge/internal/config"
	"github.com/marcusv/ionbridge/internal/domain"
	"github.com/marcusv/ionbridge/internal/ion"
	"github.com/marcusv/ionbridge/internal/logger"
	"github.com/marcusv/ionbridge/internal/repository"
	"github.com/marcusv/ionbridge/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		entityFlag = flag.String("entity", "taskdetail", "entity to sync, comma-separated, or 'all'")
		warehouse  = flag.String("warehouse", "", "warehouse id (required)")
		batchSize  = flag.Int64("batch", 0, "batch size (0 = configured default)")
		ceiling    = flag.Int64("limit", 0, "record ceiling (0 = configured default)")
		dateFrom   = flag.String("from", "", "date range start (YYYY-MM-DD)")
		dateTo     = flag.String("to", "", "date range end (YYYY-MM-DD)")
		taskType   = flag.String("tasktype", "", "task type filter (taskdetail only)")
	)
	flag.Parse()

	log := logger.NewDefault()
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	if *warehouse == "" {
		log.Fatal("-warehouse is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()
	mongoClient, db, err := repository.Connect(ctx, &cfg.Mongo)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(ctx)

	if err := repository.EnsureIndexes(ctx, db, cfg.Mongo.JobRetention); err != nil {
		log.WithError(err).Fatal("Failed to create indexes")
	}

	creds, err := ion.LoadCredentials(cfg.ION.CredentialsPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load ION credentials")
	}

	jobRepo := repository.NewSyncJobRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	ionClient := ion.NewClient(&ion.Config{
		BaseURL:        cfg.ION.BaseURL,
		RequestTimeout: cfg.ION.RequestTimeout,
		PollInitial:    cfg.ION.PollInitial,
		PollMax:        cfg.ION.PollMax,
		PollDeadline:   cfg.ION.PollDeadline,
	}, ion.NewTokenSource(creds, cfg.ION.RequestTimeout), log)

	engine := service.NewEngine(ionClient, jobRepo, docRepo, nil, log, service.EngineConfig{
		DefaultBatchSize:     cfg.Sync.DefaultBatchSize,
		DefaultRecordCeiling: cfg.Sync.DefaultRecordCeiling,
		PageDelay:            cfg.Sync.PageDelay,
		PausePollInterval:    cfg.Sync.PausePollInterval,
	})

	var names []string
	if *entityFlag == "all" {
		names = domain.EntityNames()
	} else {
		names = strings.Split(*entityFlag, ",")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := strings.TrimSpace(name)
		g.Go(func() error {
			return runSync(gctx, engine, jobRepo, log, service.StartParams{
				Entity:        name,
				WarehouseID:   *warehouse,
				DateFrom:      *dateFrom,
				DateTo:        *dateTo,
				TaskType:      *taskType,
				BatchSize:     *batchSize,
				RecordCeiling: *ceiling,
			})
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Sync failed")
	}
	log.Info("All syncs finished")
}

// runSync starts one job and polls its ledger until it reaches a terminal
// status.
func runSync(ctx context.Context, engine *service.Engine, jobRepo *repository.SyncJobRepository, log *logger.Logger, params service.StartParams) error {
	result, err := engine.Start(ctx, params)
	if err != nil {
		return err
	}

	jobLog := log.WithFields(logger.Fields{
		logger.FieldJobID:  result.JobID,
		logger.FieldEntity: params.Entity,
	})
	jobLog.WithField("total", result.TotalRecords).Info("Job started")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		job, err := jobRepo.Get(ctx, result.JobID)
		if err != nil {
			return err
		}

		jobLog.WithFields(logger.Fields{
			"processed": job.ProcessedRecords,
			"total":     job.TotalRecords,
			"errors":    job.ErrorRecords,
			"percent":   int(job.PercentComplete),
		}).Info("Progress")

		if job.Status.Terminal() {
			jobLog.WithFields(logger.Fields{
				logger.FieldStatus: string(job.Status),
				"inserted":         job.InsertedRecords,
				"updated":          job.UpdatedRecords,
				"errors":           job.ErrorRecords,
			}).Info("Job finished")
			return nil
		}
	}
}
