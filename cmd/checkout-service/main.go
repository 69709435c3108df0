package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// loadDotEnv подхватывает .env, если он есть рядом с бинарником.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := parseLogLevel(level)
	log.SetLevel(parsed)
	return err
}

func parseLogLevel(level string) (log.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return log.InfoLevel, nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel, err
	}
	return parsed, nil
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		log.WithError(err).Warn("не удалось прочитать .env")
	}

	cfg, warnings := app.ConfigFromEnv()
	if err := setupLogger(cfg.LogLevel); err != nil {
		log.WithError(err).WithField("level", cfg.LogLevel).Warn("неизвестный уровень логирования, используем info")
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"build":          version.String(),
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"gateway":        cfg.Gateway,
	}).Info("запускаем checkout service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("checkout service остановлен")
}
