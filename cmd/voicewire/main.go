package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicewire/go-voicewire/internal/config"
	"github.com/voicewire/go-voicewire/internal/log"
	"github.com/voicewire/go-voicewire/pkg/audioio"
	"github.com/voicewire/go-voicewire/pkg/capture"
	"github.com/voicewire/go-voicewire/pkg/conversation"
	"github.com/voicewire/go-voicewire/pkg/playback"
	"github.com/voicewire/go-voicewire/pkg/session"
	"github.com/voicewire/go-voicewire/pkg/transport"
	"github.com/voicewire/go-voicewire/pkg/vad"
)

func main() {
	// Command line flags
	cfgPath := flag.String("config", "", "Path to YAML config file")
	apiURL := flag.String("api", "", "Backend API base URL (overrides config)")
	handsFree := flag.Bool("hands-free", true, "Hands-free voice detection")
	voice := flag.String("voice", "", "TTS voice (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *apiURL != "" {
		cfg.APIBase = *apiURL
		cfg.WSBase = config.DeriveWSBase(*apiURL)
	}
	if *voice != "" {
		cfg.Voice = *voice
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.HandsFree = *handsFree

	log.Init(cfg.LogLevel)
	logger := log.L()

	fmt.Println("🎙  voicewire client")
	fmt.Printf("   API: %s\n", cfg.APIBase)
	fmt.Printf("   Hands-free: %v\n", cfg.HandsFree)
	fmt.Println()

	// Audio devices
	audioCfg := audioio.DefaultConfig()
	if cfg.Audio.Backend != "" {
		audioCfg.Backend = audioio.Backend(cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate > 0 {
		audioCfg.SampleRate = cfg.Audio.SampleRate
	}
	audioCfg.Device = cfg.Audio.Device

	source, err := audioio.NewSource(audioCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audio source: %v\n", err)
		os.Exit(1)
	}
	sink, err := audioio.NewSink(audioCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audio sink: %v\n", err)
		os.Exit(1)
	}

	// Speech detection: WebRTC classifier when available, energy fallback.
	var classifier vad.Classifier
	if wc, err := vad.NewWebRTCClassifier(2); err == nil {
		classifier = wc
		defer wc.Close()
	} else {
		logger.Warn("webrtc vad unavailable, using energy classifier", "error", err)
	}

	capCfg := capture.DefaultConfig()
	capCfg.VAD = vad.ConfigForPreset(vad.Preset(cfg.VADSensitivity))
	engine, err := capture.New(capCfg, source, classifier, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}

	player, err := playback.New(sink, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "playback: %v\n", err)
		os.Exit(1)
	}

	channel, err := transport.New(cfg.WSBase+"/ws/audio-stream", logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transport: %v\n", err)
		os.Exit(1)
	}

	store := conversation.NewStore(logger)
	mgr, err := session.NewManager(
		session.Config{
			APIURL:    cfg.APIBase,
			WSURL:     cfg.WSBase,
			Voice:     cfg.Voice,
			HandsFree: cfg.HandsFree,
		},
		channel, engine, player, store, logger,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Teardown()

	// Surface pipeline events on the console.
	mgr.Aggregator().OnPartialTranscript(func(text string) {
		fmt.Printf("\r… %s", text)
	})
	mgr.Aggregator().OnFlagsChange(func(transcribing, thinking bool) {
		logger.Debug("pipeline flags", "transcribing", transcribing, "thinking", thinking)
	})
	mgr.Aggregator().OnServerError(func(msg string) {
		fmt.Printf("\n⚠️  server error: %s\n", msg)
	})
	mgr.OnLatency(func(rtt time.Duration) {
		logger.Debug("heartbeat", "rtt_ms", rtt.Milliseconds())
	})

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Shutting down...")
		cancel()
	}()

	if err := mgr.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "initialize: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Connected")

	if cfg.HandsFree {
		if err := mgr.StartRecording(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "start recording: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("🎤 Listening - start talking!")
	}

	<-ctx.Done()
}
