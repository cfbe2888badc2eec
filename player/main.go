// player/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yakrealms/yak-services/player/api"
	"github.com/yakrealms/yak-services/player/mojang"
	"github.com/yakrealms/yak-services/player/service"
	"github.com/yakrealms/yak-services/player/store"
	"github.com/yakrealms/yak-services/player/syncer"
	sharedapi "github.com/yakrealms/yak-services/shared/api"
	"github.com/yakrealms/yak-services/shared/backup"
	"github.com/yakrealms/yak-services/shared/cluster"
	"github.com/yakrealms/yak-services/shared/config"
	"github.com/yakrealms/yak-services/shared/mongodb"
	redisutil "github.com/yakrealms/yak-services/shared/redis"
	"github.com/yakrealms/yak-services/shared/registry"
)

const serviceType = "player-service"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting YakRealms player service...")

	cfg, err := config.LoadPlayerServiceConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load player service configuration: %v", err)
	}

	// MongoDB connection manager. Startup does not require a reachable
	// database; the manager queues operations and recovers in the background.
	manager := mongodb.NewManager(cfg.Mongo)
	manager.Start()

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
	if err := manager.Connect(connectCtx); err != nil {
		log.Printf("WARN: Initial MongoDB connection failed, continuing with background recovery: %v", err)
	}
	cancelConnect()

	backups, err := backup.NewStore(cfg.BackupDir)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize backup store: %v", err)
	}

	repo := store.NewPlayerRepository(manager, backups, cfg.Mongo)
	playerService := service.NewPlayerService(repo, manager)

	redisClient, err := redisutil.NewRedisClusterClient(cfg.RedisAddrs, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to Redis cluster: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("ERROR: Failed to close Redis client: %v", err)
		}
	}()

	registrar := registry.NewServiceRegistrar(redisClient, serviceType, &cfg.CommonConfig)
	registrar.Start()
	defer registrar.Stop()

	registryClient := registry.NewRegistryClient(redisClient, cfg.HeartbeatTTL)
	assignment := cluster.NewServiceAssignmentManager(registryClient, registrar, cfg.HeartbeatInterval)
	go assignment.Start()
	defer assignment.Stop()

	usernameFiller := mojang.NewService(repo, cfg.UsernameFillerInterval)
	usernameFiller.Start()
	defer usernameFiller.Stop()

	backupSyncer := syncer.NewBackupSyncer(redisClient, repo, backups, assignment,
		cfg.BackupSyncInterval, cfg.BackupSyncTimeout)
	backupSyncer.Start()
	defer backupSyncer.Stop()

	server := sharedapi.NewBaseServer(cfg.ListenAddr, log.Default())
	handler := api.NewHandler(playerService)
	handler.RegisterRoutes(server.Router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("Received signal %v, shutting down player service...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("ERROR: HTTP server stopped unexpectedly: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP server shutdown failed: %v", err)
	}
	if err := manager.Disconnect(shutdownCtx); err != nil {
		log.Printf("ERROR: MongoDB disconnect failed: %v", err)
	}

	log.Println("Player service shut down cleanly.")
}
