package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"dockfleet/node-agent/app/clients"
	"dockfleet/node-agent/app/executor"
	"dockfleet/node-agent/app/handlers"
	"dockfleet/node-agent/app/identity"
	"dockfleet/node-agent/app/services"
	"dockfleet/node-agent/app/storage"
	"dockfleet/node-agent/app/utils"
	"dockfleet/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	commandTimeout    = 10 * time.Minute
	journalRetention  = 24 * time.Hour
	journalCleanupInt = time.Hour
)

// Bootstrap starts the node agent and blocks until ctx is done
func Bootstrap(ctx context.Context, cfg *Config, log *logger.Logger) error {
	store, err := storage.NewStore(cfg.Agent.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	stacks, err := storage.NewFSStore(cfg.Agent.StacksDir)
	if err != nil {
		return fmt.Errorf("failed to initialize stacks directory: %w", err)
	}

	docker, err := executor.NewDockerClient(cfg.Docker.Host, log)
	if err != nil {
		return err
	}
	defer docker.Close()

	identityMgr := identity.NewManager(cfg.Agent.IdentityPath)
	collector := identity.NewCollector(utils.GetPrimaryIP)
	httpClient := clients.NewHTTPClient(cfg.Controller.URL, "")
	agentClient := services.NewAgentClient(httpClient)

	advertiseURL := utils.AdvertiseURL(cfg.Agent.AdvertiseURL, cfg.Agent.ListenPort, utils.GetPrimaryIP)
	if advertiseURL == "" {
		log.Warn("no advertise URL, remote stack listing will be unavailable for this agent")
	}

	registration := services.NewRegistrationService(
		agentClient, identityMgr, collector,
		cfg.Agent.ID, advertiseURL, cfg.Agent.Version, log,
	)
	ident, err := registration.RegisterWithRetry(ctx, utils.NewRetryPolicy(0, 2*time.Second, 30*time.Second))
	if err != nil {
		return err
	}
	agentLog := log.WithAgentID(ident.AgentID)

	taskExecutor := executor.NewTaskExecutor(docker, executor.NewExecutor(commandTimeout), stacks, cfg.Agent.Version, log)
	retry := cfg.Result.Retry
	outbox := services.NewResultOutbox(store, agentClient, ident.AgentID,
		utils.NewRetryPolicy(retry.MaxAttempts, retry.BaseDelay, retry.MaxDelay), log)

	runtime := services.NewRuntimeService(store, agentClient, taskExecutor, outbox, ident.AgentID, services.RuntimeConfig{
		PollInterval: cfg.Agent.PollInterval,
		PollWait:     cfg.Agent.PollWait,
		Workers:      cfg.Agent.Workers,
		QueueSize:    cfg.Agent.QueueSize,
	}, log)

	heartbeat := services.NewHeartbeatService(agentClient, ident.AgentID, cfg.Agent.HeartbeatInterval, docker, collector, registration, log).
		WithMetadata(func() map[string]interface{} {
			meta := map[string]interface{}{"agentVersion": cfg.Agent.Version}
			if v := taskExecutor.PendingUpgrade(); v != "" {
				meta["pendingUpgrade"] = v
			}
			return meta
		})

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(heartbeat.Start)
	run(outbox.Start)
	run(runtime.Start)
	run(func(ctx context.Context) { startCleanupJob(ctx, store, agentLog) })

	var server *http.Server
	if cfg.Agent.ListenPort > 0 {
		server = newLocalServer(cfg.Agent.ListenPort, handlers.NewStackHandler(docker, ident.AgentID, log))
		go func() {
			agentLog.Info("local API listening", zap.Int("port", cfg.Agent.ListenPort))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				agentLog.WithError(err).Error("local API server failed")
			}
		}()
	}

	agentLog.Info("node agent started", zap.String("controller", cfg.Controller.URL))
	<-ctx.Done()
	agentLog.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			agentLog.WithError(err).Warn("local API shutdown failed")
		}
	}
	wg.Wait()
	return nil
}

func newLocalServer(port int, stacks *handlers.StackHandler) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	stacks.Register(router)

	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// startCleanupJob drops finished tasks from the local journal
func startCleanupJob(ctx context.Context, store *storage.Store, log *logger.Logger) {
	ticker := time.NewTicker(journalCleanupInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanupFinishedTasks(ctx, time.Now().Add(-journalRetention))
			if err != nil {
				log.WithError(err).Warn("journal cleanup failed")
				continue
			}
			if n > 0 {
				log.Debug("journal cleanup", zap.Int64("removed", n))
			}
		}
	}
}
