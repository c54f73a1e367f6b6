package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "optional path to a YAML config file")
	flag.Parse()

	log.Println("Starting GoChat room server...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using process environment")
	}

	config := server.NewConfigFromEnv()
	if *configPath != "" {
		loaded, err := server.LoadConfigFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	}

	hub := server.NewHub(config)
	server.StartHub(hub)

	mux := server.SetupRoutes(hub)
	httpServer := server.CreateServer(hub.Config().Port, mux)

	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer)
			},
			"hub": func(_ context.Context) error {
				return hub.Shutdown(shutdownTimeout)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
