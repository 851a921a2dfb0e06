package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yai-nexus/cloudlog/internal/engine"
	"github.com/yai-nexus/cloudlog/internal/filesource"
	"github.com/yai-nexus/cloudlog/internal/monitor"
	"github.com/yai-nexus/cloudlog/internal/shipping"
	"github.com/yai-nexus/cloudlog/internal/shipping/wire"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := shipping.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	client := wire.NewClient(config)

	var opts []engine.Option
	if path := os.Getenv("DEAD_LETTER_FILE"); path != "" {
		opts = append(opts, engine.WithDeadLetter(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    getEnvAsInt("DEAD_LETTER_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("DEAD_LETTER_MAX_BACKUPS", 3),
		}))
	}

	transport := engine.New(config, client, opts...)
	if err := transport.Start(ctx); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}

	mon := monitor.New(getEnvAsDuration("MONITOR_INTERVAL", 60*time.Second))
	mon.AddSource(config.Project+"/"+config.Logstore, transport)
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		mon.AddChannel(monitor.NewWebhookChannel(url, nil))
	}
	mon.Start(ctx)

	source := filesource.New(ctx, filesource.Config{
		Root:         getEnv("LOG_PATH", "/var/log/app"),
		ScanInterval: getEnvAsDuration("SCAN_INTERVAL", 30*time.Second),
		Workers:      getEnvAsInt("WORKERS", 2),
		QueueSize:    getEnvAsInt("QUEUE_SIZE", 50),
		IdleTimeout:  getEnvAsDuration("FILE_IDLE_TIMEOUT", 5*time.Minute),
	}, transport)
	source.Start()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan

	log.Println("Received shutdown signal")
	source.Stop()
	mon.Stop()
	transport.Stop(getEnvAsDuration("STOP_TIMEOUT", engine.DefaultStopTimeout))
	cancel()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
