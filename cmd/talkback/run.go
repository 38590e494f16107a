package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	napv1 "github.com/nupi-ai/nupi/api/nap/v1"

	"github.com/nupi-ai/voice-talkback/internal/appinfo"
	"github.com/nupi-ai/voice-talkback/internal/cache"
	"github.com/nupi-ai/voice-talkback/internal/config"
	"github.com/nupi-ai/voice-talkback/internal/confirm"
	"github.com/nupi-ai/voice-talkback/internal/ingest"
	"github.com/nupi-ai/voice-talkback/internal/orchestrator"
	"github.com/nupi-ai/voice-talkback/internal/speech"
	"github.com/nupi-ai/voice-talkback/internal/store"
	"github.com/nupi-ai/voice-talkback/internal/telemetry"
	"github.com/nupi-ai/voice-talkback/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	var stdin bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the voice pipeline",
		Long: `Run the voice pipeline: receive transcriptions over HTTP (and
optionally stdin), stream the assistant's reply, and speak it sentence by
sentence. Risky tool calls are confirmed by voice.

Stdin lines are treated as utterances. "/interrupt" stops the current reply
and "/status" prints the current session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), stdin)
		},
	}
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Read utterances from standard input")
	return cmd
}

func run(parent context.Context, readStdin bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}

	logOut := io.Writer(os.Stdout)
	if cfg.AudioOutput == "-" || cfg.AudioOutput == "stdout" {
		logOut = os.Stderr
	}
	logger := newLogger(logOut, cfg.LogLevel)
	info := appinfo.Info()
	logger.Info("starting talkback",
		"app", info.Name,
		"app_slug", info.Slug,
		"app_version", appinfo.Version(),
		"listen_addr", cfg.ListenAddr,
		"ingest_addr", cfg.IngestAddr,
		"server_url", cfg.ServerURL,
		"voice_id", cfg.VoiceID,
		"synth_addr", cfg.SynthAddr,
		"kokoro_url", cfg.KokoroURL,
		"stub", cfg.UseStub,
	)
	recorder := telemetry.NewRecorder(logger)

	// Bind both ports before the slower initialisation so readiness checks
	// see the process early.
	grpcLis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind listener", "error", err)
		return err
	}
	ingestLis, err := net.Listen("tcp", cfg.IngestAddr)
	if err != nil {
		grpcLis.Close()
		logger.Error("failed to bind ingest listener", "error", err)
		return err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)
	serviceName := napv1.TextToSpeechService_ServiceDesc.ServiceName
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	synth, closeSynth, err := buildSynthesizer(cfg, logger)
	if err != nil {
		grpcLis.Close()
		ingestLis.Close()
		logger.Error("failed to initialise synthesizer", "error", err)
		return err
	}
	defer closeSynth()

	voice := speech.Voice{ID: cfg.VoiceID, Speed: cfg.VoiceSpeed}
	napv1.RegisterTextToSpeechServiceServer(grpcServer, speech.NewService(synth, voice, logger, recorder))

	history, err := openStore(cfg, logger)
	if err != nil {
		grpcLis.Close()
		ingestLis.Close()
		return err
	}
	defer history.Close()

	sink, sinkCloser, err := speech.OpenSink(cfg.AudioOutput)
	if err != nil {
		grpcLis.Close()
		ingestLis.Close()
		logger.Error("failed to open audio output", "error", err)
		return err
	}
	defer sinkCloser.Close()
	player := speech.NewPlayer(sink, logger)
	defer player.Close()

	backend, err := transport.NewClient(cfg.ServerURL, logger,
		transport.WithModel(cfg.Model),
		transport.WithAgent(cfg.Agent),
	)
	if err != nil {
		grpcLis.Close()
		ingestLis.Close()
		return err
	}

	orch := orchestrator.New(orchestrator.Config{
		Voice:             voice,
		IdleTimeout:       cfg.IdleTimeout,
		MinSentenceLength: cfg.MinSentenceLength,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		Toggles:           cfg.Toggles(),
	}, orchestrator.Deps{
		Backend:     backend,
		Synthesizer: synth,
		Player:      player,
		Store:       history,
		Recorder:    recorder,
		Callbacks:   logCallbacks(logger),
	})
	defer orch.Close()

	receiver := ingest.New(orch, history, logger)

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)
	logger.Info("talkback ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := receiver.Serve(ingestLis); err != nil {
			return fmt.Errorf("ingest server: %w", err)
		}
		return nil
	})
	if readStdin {
		lines := scanLines(os.Stdin)
		g.Go(func() error {
			return utteranceLoop(gctx, lines, orch, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested, stopping servers")
		healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := receiver.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ingest shutdown failed", "error", err)
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("talkback terminated with error", "error", err)
		return err
	}
	logger.Info("talkback stopped")
	return nil
}

// buildSynthesizer assembles the synthesis chain: the NAP service, then the
// local Kokoro server, then the stub, optionally behind the disk cache.
func buildSynthesizer(cfg config.Config, logger *slog.Logger) (speech.Synthesizer, func(), error) {
	stub := speech.NewStub(logger)
	var (
		synth  speech.Synthesizer = stub
		engine                    = "stub"
		closer                    = func() {}
	)
	if cfg.UseStub {
		logger.Info("using STUB synthesizer, audio is silence")
	} else {
		var chain []speech.Synthesizer
		var engines []string
		if cfg.SynthAddr != "" {
			client, err := speech.DialNAP(cfg.SynthAddr, logger)
			if err != nil {
				return nil, nil, err
			}
			chain = append(chain, client)
			engines = append(engines, "nap")
			closer = func() { client.Close() }
			logger.Info("NAP synthesizer configured", "addr", cfg.SynthAddr)
		}
		if cfg.KokoroURL != "" {
			chain = append(chain, speech.NewKokoro(cfg.KokoroURL, logger))
			engines = append(engines, "kokoro")
			logger.Info("kokoro synthesizer configured", "url", cfg.KokoroURL)
		}
		synth = speech.NewFallback(logger, append(chain, stub)...)
		engine = strings.Join(engines, "+")
	}

	if cfg.CacheMaxSizeMB > 0 && cfg.CacheDir != "" {
		audioCache, err := cache.New(cfg.CacheDir, int64(cfg.CacheMaxSizeMB)*1024*1024, logger)
		if err != nil {
			logger.Warn("failed to initialize cache, continuing without", "error", err)
		} else {
			logger.Info("audio cache initialized", "dir", cfg.CacheDir, "max_size_mb", cfg.CacheMaxSizeMB)
			synth = speech.NewCached(synth, audioCache, engine, logger)
		}
	}
	return synth, closer, nil
}

func openStore(cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.StorePath == "" {
		logger.Info("conversation history kept in memory")
		return store.NewMemory(), nil
	}
	s, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		logger.Error("failed to open conversation store", "path", cfg.StorePath, "error", err)
		return nil, err
	}
	logger.Info("conversation store opened", "path", cfg.StorePath)
	return s, nil
}

func logCallbacks(logger *slog.Logger) orchestrator.Callbacks {
	ui := logger.With("component", "ui")
	return orchestrator.Callbacks{
		OnTextUpdate: func(full string) {
			ui.Debug("response text", "length", len(full))
		},
		OnSentence: func(sentence string) {
			ui.Info("speaking", "sentence", sentence)
		},
		OnError: func(err error, sentence string) {
			ui.Warn("pipeline error", "error", err, "sentence", sentence)
		},
		OnState: func(state orchestrator.State) {
			ui.Debug("session state", "state", state)
		},
		OnConfirmation: func(ev confirm.Event) {
			ui.Info("confirmation",
				"kind", ev.Kind,
				"tool", ev.Pending.ToolName,
				"description", ev.Pending.Description,
				"outcome", ev.Outcome,
			)
		},
		OnNotice: func(text string) {
			ui.Info("notice", "text", text)
		},
	}
}

// scanLines feeds r line by line into the returned channel, which is closed
// at EOF. The reader goroutine is not tied to any context because a blocked
// read cannot be interrupted.
func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

type utteranceHandler interface {
	HandleUtterance(ctx context.Context, text string) error
	Interrupt() error
	Snapshot() orchestrator.Snapshot
}

func utteranceLoop(ctx context.Context, lines <-chan string, h utteranceHandler, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				logger.Info("stdin closed")
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/interrupt":
				if err := h.Interrupt(); err != nil {
					logger.Info("nothing to interrupt")
				}
			case "/status":
				snap := h.Snapshot()
				logger.Info("status", "session", snap.Token, "state", snap.State, "deltas", snap.Deltas)
			default:
				if err := h.HandleUtterance(ctx, line); err != nil {
					logger.Warn("utterance failed", "error", err)
				}
			}
		}
	}
}
