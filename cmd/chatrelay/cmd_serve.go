package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatrelay/internal/attachment"
	"github.com/user/chatrelay/internal/config"
	ctxengine "github.com/user/chatrelay/internal/context"
	"github.com/user/chatrelay/internal/gateway"
	"github.com/user/chatrelay/internal/httpapi"
	"github.com/user/chatrelay/internal/metrics"
	"github.com/user/chatrelay/internal/ratelimit"
	"github.com/user/chatrelay/internal/state"
	"github.com/user/chatrelay/pkg/llm"
	"github.com/user/chatrelay/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatrelay HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// openBlob builds the configured upload backend.
func openBlob(ctx context.Context, cfg *config.Config) (attachment.Blob, error) {
	switch cfg.Blob.Backend {
	case "s3":
		s3 := cfg.Blob.S3
		return attachment.NewS3Blob(ctx, attachment.S3Config{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			Prefix:          s3.Prefix,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			UsePathStyle:    s3.UsePathStyle,
		})
	default:
		return attachment.NewFSBlob(cfg.BlobDir()), nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, err := state.OpenDB(ctx, cfg.StoragePath())
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()

	actors := state.NewActors(state.NewSessionStore(db), state.ActorsConfig{
		MaxConcurrent: cfg.Actors.MaxConcurrent,
		LaneBuffer:    cfg.Actors.LaneBuffer,
		IdleTimeout:   cfg.IdleTimeout(),
	})
	actors.OnLaneChange(func(lanes int) { m.ActiveLanes.Set(float64(lanes)) })
	actors.Start(ctx)
	defer actors.Stop()

	// Attachments
	blob, err := openBlob(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open blob backend: %w", err)
	}

	// Prompt assembly
	tmpl, err := ctxengine.LoadPrompt(cfg.Chat.SystemPromptPath)
	if err != nil {
		return err
	}
	var counter ctxengine.TokenCounter
	if cfg.LLM.MaxContextTokens > 0 {
		tc, err := ctxengine.NewTiktokenCounter(cfg.LLM.Model)
		if err != nil {
			slog.Warn("token counting disabled", "error", err)
		} else {
			counter = tc
		}
	}
	engine := ctxengine.New(tmpl, counter, cfg.LLM.MaxContextTokens)

	// LLM provider
	retry := llm.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.LLM.MaxRetries + 1
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.ModelTimeout(),
	}, retry)

	// Gateway
	gw := gateway.New(actors, ratelimit.New(), provider, engine, gateway.Config{
		MaxMessageLength:    cfg.Chat.MaxMessageLength,
		HistoryLimit:        cfg.Chat.HistoryLimit,
		SummaryHistoryLimit: cfg.Chat.SummaryHistoryLimit,
		RateLimitWindow:     time.Duration(cfg.RateLimit.WindowMs) * time.Millisecond,
		RateLimitMax:        cfg.RateLimit.MaxRequests,
		RateLimitExport:     cfg.RateLimit.ApplyToExport,
		ModelTimeout:        cfg.ModelTimeout(),
	},
		gateway.WithMetrics(m),
		gateway.WithResolver(attachment.NewResolver(blob)),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           httpapi.NewServer(gw, attachment.NewUploader(blob), m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.ModelTimeout() + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("chatrelay started",
		"listen", cfg.HTTP.Listen,
		"data_dir", cfg.DataDir,
		"db", cfg.StoragePath(),
		"blob_backend", cfg.Blob.Backend,
		"llm_model", cfg.LLM.Model,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-serveErr:
			return fmt.Errorf("http server: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				shutdown(httpServer)
				actors.Stop()
				db.Close()
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			// SIGINT or SIGTERM
			slog.Info("shutting down", "signal", sig)
			shutdown(httpServer)
			return nil
		}
	}
}

// shutdown stops accepting requests and waits for in-flight ones.
func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
}
