package main

import (
	"errors"
	"time"

	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/gateway"
	"github.com/huangang/feedbackloop/internal/handlers"
	"github.com/huangang/feedbackloop/internal/middleware"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/services"
	"github.com/huangang/feedbackloop/internal/store"
	"github.com/huangang/feedbackloop/pkg/logger"
)

const reviewLinkTTL = 10 * time.Minute

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg            *config.Config
	orchestrator   *services.Orchestrator
	sweeper        *services.Sweeper
	publisher      services.OutcomePublisher
	taskQueue      services.TaskQueue
	worker         *services.Worker
	webhookLimiter *middleware.RateLimiter

	visitHandler        *handlers.VisitHandler
	webhookHandler      *handlers.WebhookHandler
	feedbackHandler     *handlers.FeedbackHandler
	healthHandler       *handlers.HealthHandler
	imBotHandler        *handlers.IMBotHandler
	llmConfigHandler    *handlers.LLMConfigHandler
	systemConfigHandler *handlers.SystemConfigHandler
	systemLogHandler    *handlers.SystemLogHandler
	sseHandler          *handlers.SSEHandler
	metricsHandler      *handlers.MetricsHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	if err := models.SeedDefaultData(db, &cfg.Feedback); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	if err := models.SeedRestaurants(db, cfg.Restaurants); err != nil {
		logger.Fatalf("Failed to seed restaurants: %v", err)
	}

	services.InitSystemLogger(db)

	repo := store.NewGormStore(db)
	fb := cfg.Feedback

	var gw gateway.Gateway
	whatsapp, err := gateway.NewWhatsAppClient(&cfg.WhatsApp)
	switch {
	case err == nil:
		gw = whatsapp
	case errors.Is(err, gateway.ErrNotConfigured):
		logger.Warn().Msg("WhatsApp credentials missing, outbound messages will fail")
		gw = gateway.Disabled{}
	default:
		logger.Fatalf("Failed to configure WhatsApp client: %v", err)
	}

	pacer := services.NewPacer()
	scheduler := services.NewOutreachScheduler(fb.OutreachDelay.Duration, pacer, services.NewHolidayService())
	renderer := services.NewMessageRenderer(fb.DefaultLanguage)
	delivery := services.NewDeliveryManager(repo, gw, pacer, scheduler, renderer, fb, nil)

	thresholds := services.NewThresholdService(db, fb)
	notifier := services.NewNotificationService(db)
	router := services.NewRoutingEngine(repo, thresholds.Routing, notifier, gw,
		services.NewReviewLinkResolver(repo, reviewLinkTTL), renderer, fb, nil)

	aiService := services.NewAIService(db, &cfg.OpenAI)
	classifier := services.NewCompositeClassifier(services.NewRatingClassifier(thresholds.Rating), aiService)

	var publisher services.OutcomePublisher = services.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		rabbit, err := services.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			logger.Warn().Err(err).Msg("RabbitMQ unavailable, outcomes will not be published")
		} else {
			publisher = rabbit
		}
	}

	transitions := services.NewSSEHub()
	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Repo:       repo,
		Scheduler:  scheduler,
		Delivery:   delivery,
		Classifier: classifier,
		Router:     router,
		Publisher:  publisher,
		Events:     transitions,
		Renderer:   renderer,
		Config:     fb,
	})

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(orchestrator.ProcessEnvelope)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(orchestrator.ProcessEnvelope)
			if err := worker.Start(); err != nil {
				logger.Fatalf("Failed to start worker: %v", err)
			}
		}
	}

	sweeper := services.NewSweeper(db, repo, orchestrator, fb.SweepInterval.Duration, nil)
	if err := sweeper.Start(); err != nil {
		logger.Fatalf("Failed to start sweeper: %v", err)
	}

	return &appServices{
		cfg:            cfg,
		orchestrator:   orchestrator,
		sweeper:        sweeper,
		publisher:      publisher,
		taskQueue:      taskQueue,
		worker:         worker,
		webhookLimiter: middleware.NewRateLimiter(fb.WebhookRateLimit, fb.WebhookBurst),

		visitHandler:        handlers.NewVisitHandler(orchestrator),
		webhookHandler:      handlers.NewWebhookHandler(taskQueue, cfg.WhatsApp.AppSecret, cfg.WhatsApp.VerifyToken),
		feedbackHandler:     handlers.NewFeedbackHandler(repo),
		healthHandler:       handlers.NewHealthHandler(db, taskQueue),
		imBotHandler:        handlers.NewIMBotHandler(services.NewIMBotService(db, notifier)),
		llmConfigHandler:    handlers.NewLLMConfigHandler(services.NewLLMConfigService(db, aiService)),
		systemConfigHandler: handlers.NewSystemConfigHandler(thresholds),
		systemLogHandler:    handlers.NewSystemLogHandler(services.NewSystemLogService(db)),
		sseHandler:          handlers.NewSSEHandler(transitions),
		metricsHandler:      handlers.NewMetricsHandler(db, taskQueue, transitions),
	}
}

// shutdown stops intake first, then drains in-flight lifecycle work.
func (s *appServices) shutdown() {
	s.sweeper.Stop()
	logger.Info().Msg("Sweeper stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	s.orchestrator.Shutdown()
	s.webhookLimiter.Stop()

	if err := s.publisher.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close outcome publisher")
	}
	if sqlDB, err := models.GetDB().DB(); err == nil {
		sqlDB.Close()
	}
}
