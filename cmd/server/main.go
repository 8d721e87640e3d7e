package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"

	"groupwatch/internal/config"
	"groupwatch/internal/hertzapi"
	"groupwatch/internal/httpapi"
	"groupwatch/internal/rooms"
)

func main() {
	cfg := config.Load()

	roomManager := rooms.NewManager()
	roomManager.SetSendBuffer(cfg.Relay.SendBuffer)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	switch cfg.Server.Engine {
	case "echo":
		runEcho(cfg, roomManager, stop)
	default:
		runHertz(cfg, roomManager, stop)
	}
}

func runHertz(cfg *config.Config, roomManager *rooms.Manager, stop chan os.Signal) {
	h := server.Default(server.WithHostPorts(cfg.Server.Port))
	router := hertzapi.NewRouter(h, roomManager)

	go func() {
		log.Printf("Starting hertz server on %s", cfg.Server.Port)
		router.Spin()
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}

func runEcho(cfg *config.Config, roomManager *rooms.Manager, stop chan os.Signal) {
	api := httpapi.NewServer(roomManager)
	// Read/write timeouts stay off the server itself; they would cut the
	// long-lived websocket connections. Only header reads are bounded.
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Printf("Starting echo server on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
