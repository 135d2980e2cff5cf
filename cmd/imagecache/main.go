package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/giobyte8/imagecache/internal/config"
	"github.com/giobyte8/imagecache/internal/consumer"
	"github.com/giobyte8/imagecache/internal/httpapi"
	"github.com/giobyte8/imagecache/internal/services"
	"github.com/giobyte8/imagecache/internal/telemetry"
	"github.com/giobyte8/imagecache/internal/transform"
	"github.com/giobyte8/imagecache/internal/transform/lilliput"
)

const shutdownTimeout = 10 * time.Second

func setupLogging() {
	var log_level slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG", "debug":
		log_level = slog.LevelDebug
	case "WARN", "warn":
		log_level = slog.LevelWarn
	case "ERROR", "error":
		log_level = slog.LevelError
	default:
		log_level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     log_level,
		AddSource: false,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {

			// Format time to show only the time (HH:MM:SS)
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format("15:04:05"))
			}

			return a
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	slog.SetDefault(logger)
}

func loadEnv() {
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		slog.Warn("No .env file found, using environment variables directly.")
		return
	}

	err := godotenv.Load(".env")
	if err != nil {
		slog.Error("Error loading .env file", "error", err)
		os.Exit(1)
	}
}

func prepareAMQPUri() string {
	rb_host := os.Getenv("RABBITMQ_HOST")
	rb_port := os.Getenv("RABBITMQ_PORT")
	rb_user := os.Getenv("RABBITMQ_USER")
	rb_pass := os.Getenv("RABBITMQ_PASS")

	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		rb_user,
		rb_pass,
		rb_host,
		rb_port,
	)
}

func prepareImageStorage(
	settings *config.Settings,
	telemetry *telemetry.TelemetrySvc,
) (*services.ImageStorage, error) {
	transformer := transform.NewImagingTransformer(
		settings.TransformTimeout,
		settings.MaxPixels,
		telemetry,
	)

	var normalizer transform.Normalizer = transformer
	switch engine := os.Getenv("WORKING_COPY_ENGINE"); engine {
	case "", "imaging":
	case "lilliput":
		normalizer = lilliput.NewNormalizer(settings.TransformTimeout, settings.MaxPixels)
	default:
		return nil, fmt.Errorf("unknown WORKING_COPY_ENGINE %q", engine)
	}

	return services.NewImageStorage(settings, transformer, normalizer, telemetry)
}

func prepareAMQPConsumer(
	storage *services.ImageStorage,
	telemetry *telemetry.TelemetrySvc,
) (consumer.MessageConsumer, error) {
	var amqpCfg consumer.AMQPConfig
	amqpCfg.AMQPUri = prepareAMQPUri()
	amqpCfg.Exchange = os.Getenv("AMQP_EXCHANGE")
	amqpCfg.DerivativeQueueName = os.Getenv("AMQP_QUEUE_DERIVATIVE_REQUESTS")
	amqpCfg.DeleteQueueName = os.Getenv("AMQP_QUEUE_DELETE_REQUESTS")

	return consumer.NewAMQPConsumer(
		amqpCfg,
		consumer.NewHandlers(storage, telemetry),
	)
}

func startHTTPServer(addr string, storage *services.ImageStorage, webDir string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(storage), webDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	return srv
}

func main() {
	loadEnv()
	setupLogging()

	slog.Info("Starting Imagecache service...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Init telemetry services
	telemetry, err := telemetry.NewTelemetrySvc(ctx)
	if err != nil {
		slog.Error("Failed to initialize Telemetry services", "error", err)
		os.Exit(1)
	}

	storage, err := prepareImageStorage(settings, telemetry)
	if err != nil {
		slog.Error("Failed to create image storage", "error", err)
		os.Exit(1)
	}

	var amqpConsumer consumer.MessageConsumer
	if os.Getenv("AMQP_ENABLED") == "true" {
		amqpConsumer, err = prepareAMQPConsumer(storage, telemetry)
		if err != nil {
			slog.Error("Failed to create AMQP consumer", "error", err)
			os.Exit(1)
		}

		if err := amqpConsumer.Start(ctx); err != nil {
			slog.Error("Failed to start AMQP consumer", "error", err)
			os.Exit(1)
		}
	}

	var httpServer *http.Server
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		httpServer = startHTTPServer(addr, storage, settings.WebDir)
	}

	if amqpConsumer == nil && httpServer == nil {
		slog.Error("Nothing to serve. Set HTTP_ADDR and/or AMQP_ENABLED=true")
		os.Exit(1)
	}
	slog.Info("Imagecache service is running. Press Ctrl+C to stop.")

	// Graceful shutdown (listen for OS signals)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sigChan:
		slog.Info("Received OS signal, shutting down...", "signal", s.String())
	case <-ctx.Done():
		slog.Info(
			"Parent context cancelled, shutting down...",
			"reason",
			ctx.Err(),
		)
	}

	// --- --- --- --- --- --- --- --- --- --- --- ---
	// Perform graceful shutdown operations
	// before cancelling context

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown HTTP server", "error", err)
		}
	}
	if amqpConsumer != nil {
		amqpConsumer.Stop()
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown telemetry services", "error", err)
	}

	// Trigger context cancellation
	cancel()
	slog.Info("Imagecache service exited gracefully.")
}
