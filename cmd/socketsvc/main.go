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
	"github.com/avvvet/wishcard-services/internal/comm"
	"github.com/avvvet/wishcard-services/internal/nats"

	"github.com/avvvet/wishcard-services/internal/socketsvc/broker"
	"github.com/avvvet/wishcard-services/internal/socketsvc/routes"
	"github.com/avvvet/wishcard-services/internal/socketsvc/ws"
)

const SERVICE_NAME = "socket"

func init() {
	instanceId := "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	config.CreateUniqueInstance(SERVICE_NAME)

	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimit := 100
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		rateLimit, err = strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid RATE_LIMIT value: %v", err)
		}
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	port := os.Getenv("SOCKET_SERVICE_PORT")
	if port == "" {
		port = "8081"
	}

	// Initialize websocket handler
	s := ws.NewWs()

	// Initialize routes
	routes.SetRoutes(r, s, port)

	// match events from the card service are pushed to registered sockets
	b := broker.NewBroker(n.Conn, s.GetSender, s.GetTokenSockets)

	sub, err := b.Subscribe(comm.SubjectCardService)
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(0)
	}

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + port,
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

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
