// Command reelforge wires every pipeline component into one process:
// config load, an optional Redis queue, an optional background worker
// pool, and an HTTP acceptor, shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobarin/reelforge/internal/acceptor"
	"github.com/bobarin/reelforge/internal/align"
	"github.com/bobarin/reelforge/internal/concat"
	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/fetch"
	"github.com/bobarin/reelforge/internal/imagefix"
	"github.com/bobarin/reelforge/internal/llm"
	"github.com/bobarin/reelforge/internal/metrics"
	"github.com/bobarin/reelforge/internal/motion"
	"github.com/bobarin/reelforge/internal/pipeline"
	"github.com/bobarin/reelforge/internal/queue"
	"github.com/bobarin/reelforge/internal/render"
	"github.com/bobarin/reelforge/internal/upload"
	"github.com/bobarin/reelforge/internal/worker"
)

const defaultPlaceholderImageURL = "https://placehold.co/1080x1920/png"

func main() {
	log.Println("starting reelforge...")

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	components := buildComponents(settings)
	engine := pipeline.New(settings, collector, components)

	var q *queue.Queue
	if settings.RedisURL != "" {
		q, err = queue.New(settings.RedisURL)
		if err != nil {
			log.Printf("warning: queue unavailable, async submission disabled: %v", err)
		} else {
			defer q.Close()
			log.Println("connected to render queue")
		}
	}

	var workerCancel context.CancelFunc
	if settings.WorkerEnabled && q != nil {
		w := worker.New(q, engine)
		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, settings.PerformanceMaxConcurrentSegments)
	}

	handler := acceptor.NewHandler(engine, q)
	router := acceptor.NewRouter(handler, acceptor.RouterConfig{
		APIKey:             os.Getenv("BACKEND_API_KEY"),
		CorsAllowedOrigins: os.Getenv("CORS_ALLOWED_ORIGINS"),
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: ":" + settings.APIPort, Handler: router}

	go func() {
		log.Printf("acceptor listening on :%s", settings.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("exited")
}

func buildComponents(settings *config.Settings) pipeline.Components {
	downloader := fetch.New(settings)

	var llmClient *llm.Client
	if settings.LLMEnabled && settings.OpenAIKey != "" {
		llmClient = llm.New(settings.OpenAIKey, settings.LLMModel)
	}

	var fixer *imagefix.Fixer
	var search imagefix.SearchProvider
	if settings.ImageSearchURL != "" {
		search = imagefix.NewHTTPSearch(settings.ImageSearchURL)
	}
	fixer = imagefix.New(settings, search, llmClient, defaultPlaceholderImageURL)

	var aligner *align.Aligner
	if settings.AlignmentEnabled {
		var forced align.ForcedAligner
		if settings.ForcedAlignerURL != "" {
			forced = align.NewHTTPForcedAligner(settings.ForcedAlignerURL, 5*time.Minute)
		}
		aligner = align.New(settings, forced, llmClient)
	}

	var motionProvider render.MotionProvider
	if settings.AIVideoEnabled {
		switch settings.AIVideoProvider {
		case "xai":
			if settings.XAIAPIKey != "" {
				motionProvider = motion.NewXAIProvider(settings)
			}
		default:
			if settings.GeminiKey != "" {
				motionProvider = motion.NewVeoProvider(settings)
			}
		}
	}
	renderer := render.New(settings, motionProvider)
	concatenator := concat.New(settings)

	var uploader *upload.Uploader
	if settings.UploadEnabled && settings.BlobSinkBaseURL != "" {
		sink := upload.NewHTTPBlobSink(settings.BlobSinkBaseURL, settings.BlobSinkAPIKey)
		uploader = upload.New(settings, sink)
	}

	return pipeline.Components{
		Downloader:   downloader,
		Fixer:        fixer,
		Aligner:      aligner,
		Renderer:     renderer,
		Concatenator: concatenator,
		Uploader:     uploader,
	}
}
