package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/wishcard-services/configs"
	"github.com/avvvet/wishcard-services/internal/archivesvc/broker"
	"github.com/avvvet/wishcard-services/internal/archivesvc/handlers"
	"github.com/avvvet/wishcard-services/internal/archivesvc/service"
	"github.com/avvvet/wishcard-services/internal/archivesvc/store"
	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/avvvet/wishcard-services/internal/db"
	"github.com/avvvet/wishcard-services/internal/nats"
)

const SERVICE_NAME = "archive"

func init() {
	instanceId := "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warnf("invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func main() {
	config.CreateUniqueInstance(SERVICE_NAME)

	mongoDB, err := db.ConnectToDB(context.Background(), os.Getenv("MONGODB_URI"))
	if err != nil {
		log.Fatalf("Failed to connect to mongodb: %v", err)
	}
	defer mongoDB.Client().Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.CreateTTLIndexForCollection(ctx, mongoDB, store.CollectionMatches); err != nil {
		log.Fatalf("Failed to create ttl index: %v", err)
	}
	archiveStore := store.NewArchiveStore(mongoDB)
	if err := archiveStore.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}
	cancel()

	ttl := time.Duration(envInt("ARCHIVE_TTL_DAYS", 30)) * 24 * time.Hour
	archiveService := service.NewArchiveService(archiveStore, ttl)

	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn, archiveService)
	sub, err := b.QueueSubscribe(comm.SubjectCardService, comm.QueueArchive)
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
	r.Use(c.Handler)
	r.Use(httprate.LimitByIP(envInt("RATE_LIMIT", 100), 1*time.Minute))

	port := os.Getenv("ARCHIVE_SERVICE_PORT")
	if port == "" {
		port = "8082"
	}

	h := handlers.NewHandler(archiveService, port)
	h.SetRoutes(r)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	// let in-flight events finish before closing mongo
	if err := sub.Drain(); err != nil {
		log.Errorf("drain subscription: %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
