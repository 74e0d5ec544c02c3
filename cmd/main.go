package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chatbot-api/handler"
	"chatbot-api/internal/config"
	"chatbot-api/internal/integrations/bedrock"
	"chatbot-api/internal/integrations/paramstore"
	"chatbot-api/internal/repository"
	"chatbot-api/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	store, closeStore, err := newStore(awsCfg, cfg)
	if err != nil {
		slog.Error("failed to create chat store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	completer, err := bedrock.New(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID)
	if err != nil {
		slog.Error("failed to create bedrock client", "err", err)
		os.Exit(1)
	}

	var params usecase.ParamGetter
	if cfg.SystemPromptParam != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		params = ssmClient
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(store, completer, params, usecase.Config{
		SystemPromptParam: cfg.SystemPromptParam,
		MaxPromptLength:   cfg.MaxPromptLength,
	})
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if cfg.Local() {
		serveLocal(h, cfg.LocalAddr)
		return
	}
	lambda.Start(h.Handle)
}

// newStore picks the SQLite store when SQLITE_PATH is set and DynamoDB otherwise.
func newStore(awsCfg aws.Config, cfg *config.Config) (usecase.ChatStore, func(), error) {
	if cfg.SQLitePath != "" {
		s, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using sqlite chat store", "path", cfg.SQLitePath)
		return s, func() { _ = s.Close() }, nil
	}
	c, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName)
	if err != nil {
		return nil, nil, err
	}
	return c, func() {}, nil
}

func serveLocal(h *handler.Handler, addr string) {
	e := handler.NewServer(h)

	go func() {
		slog.Info("serving chat API", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("local server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down local server", "err", err)
	}
}
