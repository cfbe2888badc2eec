// game/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yakrealms/yak-services/game/api"
	"github.com/yakrealms/yak-services/game/loot"
	"github.com/yakrealms/yak-services/game/store"
	sharedapi "github.com/yakrealms/yak-services/shared/api"
	"github.com/yakrealms/yak-services/shared/config"
	redisutil "github.com/yakrealms/yak-services/shared/redis"
	"github.com/yakrealms/yak-services/shared/registry"
	"github.com/yakrealms/yak-services/shared/service"
)

const serviceType = "game-service"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting YakRealms game service...")

	cfg, err := config.LoadGameServiceConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load game service configuration: %v", err)
	}

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

	onlineStore := store.NewOnlineStatusStore(redisClient, cfg.RedisOnlineTTL)
	playerClient := service.NewPlayerClient(cfg.PlayerServiceURL)

	lootGen := loot.NewGenerator(loot.NewDefaultRegistry(), cfg.LootSeed)

	server := sharedapi.NewBaseServer(cfg.ListenAddr, log.Default())
	handler := api.NewHandler(lootGen, onlineStore, playerClient)
	handler.RegisterRoutes(server.Router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("Received signal %v, shutting down game service...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("ERROR: HTTP server stopped unexpectedly: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP server shutdown failed: %v", err)
	}

	log.Println("Game service shut down cleanly.")
}
