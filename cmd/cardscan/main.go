package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardscan/config"
	"cardscan/internal/auth"
	"cardscan/internal/capture"
	"cardscan/internal/engine"
	"cardscan/internal/pipeline"
	"cardscan/internal/preprocess"
	wshub "cardscan/internal/ws"
)

func main() {
	// Setup logger.
	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[cardscan] ", log.Ltime)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	// Select the inference backend.
	var factory engine.Factory
	switch cfg.EngineKind {
	case "onnx":
		factory = engine.ONNXFactory(engine.ONNXConfig{
			ModelPath:         cfg.ModelPath,
			SharedLibraryPath: cfg.ORTSharedLibPath,
		})
	case "remote":
		factory = engine.RemoteFactory(engine.RemoteConfig{
			Endpoint: cfg.RemoteEndpoint,
			Timeout:  cfg.RemoteTimeout,
		})
	}

	// The pipeline is wired before the model finishes loading; frames
	// arriving early are dropped until the loader reports ready.
	var pipe *pipeline.Pipeline

	loader := engine.NewLoader(factory, func(s engine.State) {
		logger.Printf("engine state: %s", s)
		if pipe != nil {
			pipe.SetModelReady(s == engine.StateReady)
		}
	}, logger)

	pipe, err = pipeline.New(pipeline.Config{
		Engine:       loader,
		Preprocessor: preprocess.New(),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("pipeline: %v", err)
	}

	loader.Load(context.Background())

	source, err := capture.New(capture.Config{
		Device: cfg.CameraDevice,
		Width:  cfg.CameraWidth,
		Height: cfg.CameraHeight,
		FPS:    cfg.CameraFPS,
	}, pipe, logger)
	if err != nil {
		logger.Fatalf("capture: %v", err)
	}

	// State broadcasting to display clients. The channel drops updates
	// when the pump lags so the pipeline never blocks on slow clients.
	hub := wshub.NewStateHub()
	updates, unsubscribe := pipe.SubscribeChannel(16)
	go hub.Run(updates)

	authenticator := auth.NewAuthenticator(auth.Config{
		Enabled:   cfg.AuthEnabled,
		Username:  cfg.AuthUsername,
		Password:  cfg.AuthPassword,
		JWTSecret: cfg.JWTSecret,
		JWTExpiry: cfg.JWTExpiry,
	})
	if cfg.AuthEnabled {
		logger.Printf("authentication enabled for user %q", cfg.AuthUsername)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      newMux(pipe, loader, source, hub, authenticator, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming WebSocket responses
	}

	// Create channel used by both the signal handler and server goroutine
	// to notify the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		logger.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	if err := source.Start(); err != nil {
		logger.Fatalf("capture: %v", err)
	}

	logger.Printf("exiting (%v)", <-errc)

	// Stop frame delivery first, then drain in-flight inference.
	source.Stop()
	unsubscribe()
	pipe.Close()
	loader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	logger.Println("exited")
}
