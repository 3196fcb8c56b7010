// voicerelay serves the voice-call relay: a WebSocket endpoint the telephony
// platform connects to, plus a staging API for call descriptors.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/voicewire/relay/config"
	"github.com/voicewire/relay/log"
	"github.com/voicewire/relay/model"
	"github.com/voicewire/relay/model/openai"
	"github.com/voicewire/relay/registry"
	"github.com/voicewire/relay/relay"
	"github.com/voicewire/relay/telemetry"
	"github.com/voicewire/relay/tool"
	"github.com/voicewire/relay/tool/builtin"
	"github.com/voicewire/relay/tool/exec"
	"github.com/voicewire/relay/transcript"
	"github.com/voicewire/relay/transcript/sqlite"
)

func main() {
	root := &cobra.Command{
		Use:           "voicerelay",
		Short:         "Real-time voice call relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		log.Fatalf("voicerelay: %v", err)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "voicerelay.yaml", "path to the configuration file")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)
	telemetry.Init()

	sink, err := openSink(cfg.TranscriptDB)
	if err != nil {
		return err
	}
	writer, err := transcript.NewWriter(sink, 4)
	if err != nil {
		return err
	}
	defer writer.Close()

	coord, err := exec.New(cfg.ToolWorkers)
	if err != nil {
		return err
	}
	defer coord.Close()

	tools := tool.NewRegistry()
	builtin.Register(tools, builtin.Options{FollowupWebhook: cfg.FollowupWebhook})

	server := relay.NewServer(relay.ServerConfig{
		Registry:        registry.New(),
		Tools:           tools,
		Coordinator:     coord,
		Models:          newModelFactory(cfg),
		Writer:          writer,
		Profiles:        cfg.Profile,
		DefaultAgent:    cfg.DefaultAgent,
		KeepAliveSource: cfg.KeepAliveSource,
	})

	router := mux.NewRouter()
	router.HandleFunc("/ws", server.ServeWS)
	router.HandleFunc("/v1/calls/stage", server.ServeStage).Methods(http.MethodPost)
	router.HandleFunc("/healthz", server.ServeHealth).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func openSink(path string) (transcript.Sink, error) {
	if path == "" {
		log.Infof("no transcript_db configured, transcripts stay in memory")
		return transcript.NewMemorySink(), nil
	}
	return sqlite.Open(path)
}

// newModelFactory returns a factory that caches one client per model name.
// Mid-call model switches can name arbitrary models, so construction is lazy.
func newModelFactory(cfg *config.Config) func(name string) model.Model {
	var mu sync.Mutex
	cache := make(map[string]model.Model)
	var opts []openai.Option
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		opts = append(opts, openai.WithAPIKey(key))
	}
	return func(name string) model.Model {
		mu.Lock()
		defer mu.Unlock()
		if m, ok := cache[name]; ok {
			return m
		}
		m := openai.New(name, opts...)
		cache[name] = m
		return m
	}
}
