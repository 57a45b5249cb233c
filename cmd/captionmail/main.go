// Package main is the entry point for the captionmail service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/captionmail/internal/caption"
	"github.com/shineum/captionmail/internal/config"
	"github.com/shineum/captionmail/internal/dispatch"
	"github.com/shineum/captionmail/internal/server"
	"github.com/shineum/captionmail/internal/submission"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "captionmail",
		Short:         "Caption photos with AI and email the result",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")

	root.AddCommand(newServeCmd(&configPath), newSendCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP submission endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, svc, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}

			srv := server.New(cfg.HTTP.Listen, svc, cfg.HTTP.MaxUploadBytes, logger)

			logger.Info("starting captionmail",
				"version", version,
				"listen", cfg.HTTP.Listen,
				"caption_backend", cfg.CaptionBackend(),
				"smtp_failure_policy", cfg.SMTP.FailurePolicy,
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
				logger.Info("received signal, initiating shutdown")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			logger.Info("captionmail stopped")
			return nil
		},
	}
}

func newSendCmd(configPath *string) *cobra.Command {
	var to, imagePath, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Process one image and email it without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, _, svc, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}

			image, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			res, err := svc.Submit(ctx, submission.Submission{
				Email:     to,
				Text:      text,
				Image:     image,
				ImageMime: http.DetectContentType(image),
			})
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&to, "email", "", "recipient address")
	cmd.Flags().StringVar(&imagePath, "image", "", "path to the image file")
	cmd.Flags().StringVar(&text, "text", "", "optional context for the caption")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

// bootstrap loads configuration, installs the logger and wires the pipeline.
func bootstrap(ctx context.Context, configPath string) (*config.Config, *slog.Logger, *submission.Service, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg.Logging.Level, os.Stdout)
	slog.SetDefault(logger)

	backend, err := selectCaptionBackend(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if backend != nil {
		logger.Info("caption backend configured", "backend", backend.Name())
	} else {
		logger.Info("no caption backend configured, using fallback captions")
	}
	captions := caption.New(logger, backend, cfg.Caption.Timeout)

	dispatcher, err := dispatch.FromConfig(ctx, cfg, version, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to configure delivery: %w", err)
	}

	return cfg, logger, submission.New(logger, captions, dispatcher), nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// selectCaptionBackend returns the AI backend chosen by configuration, or nil.
func selectCaptionBackend(ctx context.Context, cfg *config.Config) (caption.Backend, error) {
	switch cfg.CaptionBackend() {
	case config.CaptionOpenAI:
		return caption.NewOpenAI(cfg.Caption.OpenAIKey, cfg.Caption.OpenAIModel, cfg.Caption.OpenAIBaseURL), nil
	case config.CaptionGemini:
		g, err := caption.NewGemini(ctx, cfg.Caption.GeminiKey, cfg.Caption.GeminiModel, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return g, nil
	default:
		return nil, nil
	}
}

// newLogger builds a JSON slog logger at the given level. Unknown levels
// fall back to info.
func newLogger(level string, w io.Writer) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
