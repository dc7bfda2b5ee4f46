// Command deepmemory runs the memory-augmented conversational service.
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

	"github.com/spf13/cobra"

	"github.com/lyangfan/deepmemory/config"
	"github.com/lyangfan/deepmemory/conversation"
	"github.com/lyangfan/deepmemory/extract"
	"github.com/lyangfan/deepmemory/identity"
	"github.com/lyangfan/deepmemory/llm"
	"github.com/lyangfan/deepmemory/memory"
	"github.com/lyangfan/deepmemory/memory/embedder/glm"
	"github.com/lyangfan/deepmemory/memory/embedder/simple"
	chromemstore "github.com/lyangfan/deepmemory/memory/store/chromem"
	"github.com/lyangfan/deepmemory/retrieval"
	"github.com/lyangfan/deepmemory/role"
	"github.com/lyangfan/deepmemory/web"
)

func main() {
	root := &cobra.Command{
		Use:           "deepmemory",
		Short:         "Memory-augmented conversational service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var host string
	var port int
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port)
		},
	}
	serve.Flags().StringVar(&host, "host", "", "listen address (overrides HOST)")
	serve.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		log.Printf("deepmemory: %v", err)
		os.Exit(1)
	}
}

func runServe(host string, port int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}

	log.Printf("[MAIN] environment: %s", cfg.Environment)
	log.Printf("[MAIN] embedding model: %s", cfg.EmbeddingModel)
	log.Printf("[MAIN] llm provider: %s", cfg.LLMProvider)
	log.Printf("[MAIN] data dir: %s", cfg.DataDir)
	log.Printf("[MAIN] extract threshold: every %d turns", cfg.MemoryExtractThreshold)

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	store, err := chromemstore.New(chromemstore.Config{
		Path:     cfg.VectorDBDir(),
		Embedder: embedder,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	replyLLM, err := newLLMClient(cfg)
	if err != nil {
		return err
	}

	roles, err := role.Load(cfg.RolesDir, "")
	if err != nil {
		return err
	}

	users, err := identity.NewUserManager(cfg.UsersDir())
	if err != nil {
		return err
	}
	sessions, err := identity.NewSessionManager(cfg.SessionsDir())
	if err != nil {
		return err
	}

	retrCfg := retrieval.DefaultConfig()
	retrCfg.TopK = cfg.MaxContextMemories
	retriever := retrieval.New(store, retrCfg)

	manager := conversation.New(users, sessions, store, retriever, replyLLM,
		extract.New(replyLLM), roles, conversation.Options{
			ExtractThreshold:   cfg.MemoryExtractThreshold,
			MaxContextMemories: cfg.MaxContextMemories,
			Workers:            cfg.Workers,
		})
	defer manager.Close()

	server := web.NewServer(cfg, manager, users, sessions, store, roles, replyLLM.Model())
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		log.Printf("[MAIN] listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[MAIN] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] shutdown: %v", err)
	}
	log.Println("[MAIN] stopped")
	return nil
}

// newEmbedder builds the configured adapter. The local-transformer
// variant lives behind the onnx build tag; newLocalEmbedder is defined
// per tag.
func newEmbedder(cfg *config.Config) (memory.Embedder, error) {
	switch cfg.EmbeddingModel {
	case config.EmbeddingRemote:
		return glm.New(glm.Config{APIKey: cfg.EmbeddingAPIKey})
	case config.EmbeddingLocal:
		return newLocalEmbedder()
	default:
		return simple.New(), nil
	}
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "claude":
		return llm.NewClaude(llm.ClaudeConfig{APIKey: cfg.ReplyLLMAPIKey, Model: cfg.LLMModel})
	default:
		return llm.NewGLM(llm.GLMConfig{APIKey: cfg.ReplyLLMAPIKey, Model: cfg.LLMModel})
	}
}
