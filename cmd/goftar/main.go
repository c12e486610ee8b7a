// Command goftar runs the Persian/English speech-to-text server, or records
// from a local microphone and uploads the clip to a running server.
//
// Usage:
//
//	goftar [-config config.yaml]
//	goftar capture [-server http://localhost:8080] [-device "arecord ..."] [-lang fa]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/goftar/internal/app"
	"github.com/MrWong99/goftar/internal/capture"
	"github.com/MrWong99/goftar/internal/config"
	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/llm"
	"github.com/MrWong99/goftar/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/goftar/pkg/provider/llm/openai"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/provider/stt/chunked"
	"github.com/MrWong99/goftar/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/goftar/pkg/provider/stt/openai"
	"github.com/MrWong99/goftar/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "capture" {
		os.Exit(runCapture(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "goftar: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "goftar: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("goftar starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Transcoder ────────────────────────────────────────────────────────────
	ff, err := audio.NewFFmpeg(cfg.Transcription.FFmpegCommand)
	if err != nil {
		slog.Error("invalid ffmpeg command", "err", err)
		return 1
	}
	transcoder, err := audio.NewTranscoder(
		audio.WithConverter(ff),
		audio.WithNativeDecoding(!cfg.Transcription.DisableNativeDecoding),
	)
	if err != nil {
		slog.Error("failed to create transcoder", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, transcoder)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers,
		app.WithTranscoder(transcoder),
		app.WithLevelVar(level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Capture client ────────────────────────────────────────────────────────────

// runCapture records from the local microphone until interrupted and prints
// the server's transcript.
func runCapture(args []string) int {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	serverURL := fs.String("server", "http://localhost:8080", "base URL of a goftar server")
	device := fs.String("device", capture.DefaultExecCommand, "command that writes a recording to stdout")
	lang := fs.String("lang", "fa", "language of the recording")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(level))

	dev, err := capture.NewExecDevice(*device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goftar: %v\n", err)
		return 1
	}
	uploader, err := capture.NewUploader(*serverURL, capture.WithUploadLanguage(*lang))
	if err != nil {
		fmt.Fprintf(os.Stderr, "goftar: %v\n", err)
		return 1
	}
	rec := capture.NewRecorder(dev)

	// The device outlives the interrupt that ends the recording.
	if err := rec.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "goftar: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stderr, "recording, press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	blob, err := rec.Stop()
	if err != nil {
		slog.Warn("recording ended with an error", "err", err)
	}
	if len(blob.Data) == 0 {
		fmt.Fprintln(os.Stderr, "goftar: nothing was recorded")
		return 1
	}

	upCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	res, err := uploader.Upload(upCtx, blob)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goftar: %v\n", err)
		return 1
	}
	slog.Debug("transcribed", "mode", res.Mode, "bytes", len(blob.Data))
	fmt.Println(res.Text)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the correction backends served through any-llm-go.
// "openai" uses the native client instead.
var anyllmBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires the built-in factories for transcription
// and correction backends into reg. Streaming factories depend on the
// transcription chain and are registered by buildProviders.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscriber(config.TranscriberWhisperOffline, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.OfflineOption
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewOffline(entry.Model, opts...)
	})

	reg.RegisterTranscriber(config.TranscriberWhisperHTTP, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.ServerOption
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithServerLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber(config.TranscriberOpenAI, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.StringOption("prompt", ""); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	// ── Streaming ─────────────────────────────────────────────────────────────

	reg.RegisterStream("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Correction ────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	for _, kind := range []string{"transcription", "streaming", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates every backend named in cfg. The chunked
// streaming backend wraps the primary transcriber, so it is registered here
// once that exists.
func buildProviders(cfg *config.Config, reg *config.Registry, tc *audio.Transcoder) (*app.Providers, error) {
	ps := &app.Providers{}

	tr := cfg.Transcription
	for _, entry := range append([]config.ProviderEntry{tr.Primary}, tr.Fallbacks...) {
		t, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create transcriber %q: %w", entry.Name, err)
		}
		ps.Transcribers = append(ps.Transcribers, t)
		slog.Info("provider created", "kind", "transcription", "name", entry.Name)
	}

	primary := ps.Transcribers[0]
	reg.RegisterStream("chunked", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []chunked.Option{chunked.WithTranscoder(tc)}
		if rms := entry.FloatOption("rms_threshold", 0); rms > 0 {
			opts = append(opts, chunked.WithRMSThreshold(rms))
		}
		if ms := entry.FloatOption("silence_ms", 0); ms > 0 {
			opts = append(opts, chunked.WithSilenceThreshold(time.Duration(ms)*time.Millisecond))
		}
		if ms := entry.FloatOption("max_utterance_ms", 0); ms > 0 {
			opts = append(opts, chunked.WithMaxUtterance(time.Duration(ms)*time.Millisecond))
		}
		return chunked.New(primary, opts...)
	})

	if entry := cfg.Streaming; entry.Name != "" {
		p, err := reg.CreateStream(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown streaming provider, live recognition disabled", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create streaming provider %q: %w", entry.Name, err)
		} else {
			ps.Streams = append(ps.Streams, app.Named[stt.Provider]{Name: entry.Name, Provider: p})
			slog.Info("provider created", "kind", "streaming", "name", entry.Name)
		}
	}

	if cc := cfg.Correction; cc.Enabled {
		for _, entry := range append([]config.ProviderEntry{cc.LLM}, cc.Fallbacks...) {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
			}
			ps.LLMs = append(ps.LLMs, app.Named[llm.Provider]{Name: entry.Name, Provider: p})
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
		}
	}

	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
