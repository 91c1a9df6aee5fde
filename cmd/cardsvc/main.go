package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"

	config "github.com/avvvet/wishcard-services/configs"
	"github.com/avvvet/wishcard-services/internal/cardsvc/broker"
	cardconfig "github.com/avvvet/wishcard-services/internal/cardsvc/config"
	"github.com/avvvet/wishcard-services/internal/cardsvc/db"
	"github.com/avvvet/wishcard-services/internal/cardsvc/filter"
	handlers "github.com/avvvet/wishcard-services/internal/cardsvc/handlers"
	"github.com/avvvet/wishcard-services/internal/cardsvc/service"
	"github.com/avvvet/wishcard-services/internal/cardsvc/store"
	"github.com/avvvet/wishcard-services/internal/comm"
	nats "github.com/avvvet/wishcard-services/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "card"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func openBackend(cfg cardconfig.Config) (store.Backend, error) {
	if cfg.StoreDriver == "postgres" {
		dbpool, err := db.Connect(cfg.DBUrl)
		if err != nil {
			return nil, err
		}
		log.Printf("pg connection established successfully")
		return store.NewPostgres(context.Background(), dbpool)
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	log.Printf("sqlite store at %s", cfg.SQLitePath)
	return store.NewSQLite(cfg.SQLitePath)
}

func main() {
	cfg := cardconfig.Load()
	config.CreateUniqueInstance(SERVICE_NAME)

	backend, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer db.ClosePool()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	mem, err := store.Load(ctx, backend)
	cancel()
	if err != nil {
		log.Fatalf("Failed to load cards: %v", err)
	}
	if err := mem.SeedDefaults(context.Background(), time.Now()); err != nil {
		log.Fatalf("Failed to seed defaults: %v", err)
	}

	flusher, err := store.NewFlusher(mem, backend, cfg.FlushInterval, cfg.FlushMaxPending)
	if err != nil {
		log.Fatalf("Failed to create flusher: %v", err)
	}
	flusher.Start()

	// a missing dictionary leaves filtering disabled
	words := filter.New()
	if err := words.LoadFile(cfg.DictPath); err != nil {
		log.Warnf("sensitive word filter disabled: %v", err)
	}

	cardService := service.NewCardService(mem, words, cfg.Styles, cfg.DictPath)

	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn, cardService, flusher)

	matchService := service.NewMatchService(mem, mem, service.MatchConfig{
		Cooldown:           cfg.Cooldown,
		FallbackTimeout:    cfg.FallbackTimeout,
		ImmediateFallback:  cfg.ImmediateFallback,
		AllowForceFallback: cfg.AllowForceFallback,
	}, service.WithNotifier(b))

	// subscribe to operator commands
	sub, err := b.SubscribeControl(comm.SubjectCtlService)
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(0)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(cardService, matchService, cfg.Port)
	h.InitAuth(cfg.JWTSecret)
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sub.Unsubscribe()

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}

	// last flush after the server stopped taking writes
	if err := flusher.Close(ctx); err != nil {
		log.Errorf("final flush failed: %v", err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
