package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"roomservice-agent/internal/domain"
	"roomservice-agent/internal/httpapi"
	"roomservice-agent/internal/repository"
	"roomservice-agent/internal/usecase"
)

type serverConfig struct {
	Addr          string `env:"ADDR,default=:8080"`
	StorageDriver string `env:"STORAGE_DRIVER,default=memory"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MenuSeedPath  string `env:"MENU_SEED_PATH,default=artifacts/menu.json"`
}

// conciergeStores bundles the three store contracts every backend of this
// service implements.
type conciergeStores interface {
	usecase.MenuStore
	usecase.ConversationStore
	usecase.OrderStore
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// .env is a local-development convenience; absence is fine.
	_ = godotenv.Load()

	var cfg serverConfig
	if err := envdecode.Decode(&cfg); err != nil {
		log.Error("failed to decode configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open storage", "driver", cfg.StorageDriver, "err", err)
		os.Exit(1)
	}

	svc, err := usecase.NewConciergeService(store, store, store, nil, "")
	if err != nil {
		log.Error("failed to create concierge service", "err", err)
		os.Exit(1)
	}

	api, err := httpapi.New(svc, log)
	if err != nil {
		log.Error("failed to create http api", "err", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "err", err)
		}
	}()

	log.Info("starting room service agent", "addr", cfg.Addr, "driver", cfg.StorageDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg serverConfig, log *slog.Logger) (conciergeStores, error) {
	switch cfg.StorageDriver {
	case "postgres":
		db, err := repository.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(db)
	case "memory":
		items, err := loadMenuSeed(cfg.MenuSeedPath)
		if err != nil {
			return nil, err
		}
		store := repository.NewMemoryStore()
		store.Seed(items)
		log.Info("seeded in-memory menu", "path", cfg.MenuSeedPath, "items", len(items))
		return store, nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.StorageDriver)
	}
}

func loadMenuSeed(path string) ([]domain.MenuItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []domain.MenuItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}
