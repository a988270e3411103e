package app

import (
	"context"
	"fmt"
	"time"

	"dockfleet/agent-svc/app/clients"
	"dockfleet/agent-svc/app/handlers"
	"dockfleet/agent-svc/app/liveness"
	"dockfleet/agent-svc/app/metrics"
	"dockfleet/agent-svc/app/services"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// App represents the controller application
type App struct {
	Config     *Config
	Logger     *logger.Logger
	Storage    clients.StorageAdapter
	Liveness   *liveness.Evaluator
	JWTService *services.JWTService
	Registry   *services.AgentRegistryService
	Queue      *services.TaskQueueService
	Dispatcher *services.DispatcherService
	Results    *services.ResultService
	Proxy      *services.RemoteProxyService
	Router     *gin.Engine
}

// Bootstrap initializes the application from cfg
func Bootstrap(ctx context.Context, cfg *Config, log *logger.Logger) (*App, error) {
	store, err := services.NewStorageFactory(log).Create(ctx, cfg.Storage.Driver, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return New(cfg, store, clients.NewAgentAPIClient(cfg.Proxy.Timeout), log), nil
}

// New wires services and routes over an existing store
func New(cfg *Config, store clients.StorageAdapter, agentAPI services.StackLister, log *logger.Logger) *App {
	evaluator := liveness.NewEvaluator(cfg.Liveness.Timeout)
	jwtService := services.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	registry := services.NewAgentRegistryService(store, log)
	queue := services.NewTaskQueueService(store, store, log)
	dispatcher := services.NewDispatcherService(registry, queue, store, evaluator, log)
	results := services.NewResultService(queue, log)
	proxy := services.NewRemoteProxyService(agentAPI, evaluator, log)

	a := &App{
		Config:     cfg,
		Logger:     log,
		Storage:    store,
		Liveness:   evaluator,
		JWTService: jwtService,
		Registry:   registry,
		Queue:      queue,
		Dispatcher: dispatcher,
		Results:    results,
		Proxy:      proxy,
	}
	a.Router = a.routes()

	metrics.RegisterOnlineAgentsGauge(a.countOnline)
	return a
}

func (a *App) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(a.Logger))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.Config.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	healthHandler := handlers.NewHealthHandler(a.Storage, a.Logger)
	agentHandler := handlers.NewAgentHandler(a.Registry, a.JWTService, a.Liveness, a.Logger)
	taskHandler := handlers.NewTaskHandler(a.Dispatcher, a.Queue, a.Results, a.Logger)
	stackHandler := handlers.NewStackHandler(a.Registry, a.Proxy, a.Logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	heartbeatLimiter := rate.NewLimiter(rate.Limit(a.Config.Heartbeat.RateLimit), a.Config.Heartbeat.Burst)

	v1 := router.Group("/v1")
	{
		// Agent endpoints
		v1.POST("/agents/register", agentHandler.Register)
		v1.POST("/agents/heartbeat", handlers.HeartbeatLimiter(heartbeatLimiter), agentHandler.Heartbeat)
		v1.GET("/agents", agentHandler.List)
		v1.GET("/agents/:id", agentHandler.Get)
		v1.PATCH("/agents/:id", agentHandler.Update)
		v1.DELETE("/agents/:id", agentHandler.Delete)

		// Task endpoints
		v1.POST("/agents/:id/tasks", taskHandler.Dispatch)
		v1.GET("/agents/:id/tasks", taskHandler.ListByAgent)
		v1.GET("/agents/:id/tasks/pending", handlers.AgentAuth(a.JWTService, a.Logger), taskHandler.Pending)
		v1.POST("/agents/:id/tasks/:taskId/result", taskHandler.SubmitResult)
		v1.GET("/agents/:id/deployments", taskHandler.ListDeployments)
		v1.GET("/tasks/:taskId", taskHandler.Get)

		// Remote stacks
		v1.GET("/agents/:id/stacks", stackHandler.List)
		v1.GET("/agents/:id/stacks/:name", stackHandler.Get)
	}
	return router
}

// StartCleanupJob purges old terminal tasks every cleanupInterval until ctx is done
func (a *App) StartCleanupJob(ctx context.Context) {
	retention := a.Config.Tasks.Retention()
	if retention <= 0 {
		a.Logger.Info("task retention disabled")
		return
	}

	ticker := time.NewTicker(a.Config.Tasks.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			n, err := a.Queue.PurgeTerminal(runCtx, retention)
			cancel()
			if err != nil {
				a.Logger.WithError(err).Error("cleanup job failed")
				continue
			}
			metrics.TasksPurged.Add(float64(n))
		}
	}
}

func (a *App) countOnline() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	agents, err := a.Registry.List(ctx)
	if err != nil {
		a.Logger.Warn("failed to count online agents", zap.Error(err))
		return 0
	}
	online := 0
	for _, agent := range agents {
		if a.Liveness.Status(agent) == domains.AgentOnline {
			online++
		}
	}
	return float64(online)
}
