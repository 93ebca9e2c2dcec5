package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/go-voicewire/pkg/audioio"
	"github.com/voicewire/go-voicewire/pkg/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// frames builds n script frames of the given amplitude (alternating
// sign so the energy classifier sees it).
func frames(n int, amplitude int16) []audioio.AudioChunk {
	cfg := audioio.DefaultConfig()
	out := make([]audioio.AudioChunk, n)
	for i := range out {
		samples := make([]int16, cfg.BufferSize())
		for j := range samples {
			if j%2 == 0 {
				samples[j] = amplitude
			} else {
				samples[j] = -amplitude
			}
		}
		out[i] = audioio.AudioChunk{Samples: samples, SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	}
	return out
}

// eventLog records engine callbacks in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
	chunks [][]byte
	wavs   [][]byte
	levels int
	faults []vad.Fault
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) wire(e *Engine) {
	e.OnManualStart(func() { l.add("manual_start") })
	e.OnChunk(func(data []byte, _ Encoding) {
		l.mu.Lock()
		l.chunks = append(l.chunks, data)
		l.mu.Unlock()
		l.add("chunk")
	})
	e.OnManualEnd(func() { l.add("manual_end") })
	e.OnSpeechStart(func() { l.add("speech_start") })
	e.OnUtterance(func(wav []byte) {
		l.mu.Lock()
		l.wavs = append(l.wavs, wav)
		l.mu.Unlock()
		l.add("utterance")
	})
	e.OnMisfire(func() { l.add("misfire") })
	e.OnLevel(func(float64) {
		l.mu.Lock()
		l.levels++
		l.mu.Unlock()
	})
	e.OnFault(func(f vad.Fault, _ error) {
		l.mu.Lock()
		l.faults = append(l.faults, f)
		l.mu.Unlock()
		l.add("fault")
	})
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.GraceDelay = 10 * time.Millisecond
	cfg.VAD.RedemptionFrames = 2
	return cfg
}

func TestManualCaptureStreamsChunks(t *testing.T) {
	script := frames(10, 1000) // 10 x 20ms at the default config
	src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger(), audioio.WithScript(script))

	e, err := New(testEngineConfig(), src, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log := &eventLog{}
	log.wire(e)

	if err := e.StartManual(context.Background()); err != nil {
		t.Fatalf("StartManual() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, ev := range log.list() {
			if ev == "manual_end" {
				return true
			}
		}
		return false
	})

	events := log.list()
	if events[0] != "manual_start" {
		t.Errorf("first event = %q, want manual_start", events[0])
	}

	// 10 frames of 20ms with 100ms chunks: two full chunks, no remainder.
	log.mu.Lock()
	chunks := log.chunks
	log.mu.Unlock()
	if len(chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(chunks))
	}
	wantBytes := 5 * audioio.DefaultConfig().BufferBytes()
	for i, c := range chunks {
		if len(c) != wantBytes {
			t.Errorf("chunk %d size = %d, want %d", i, len(c), wantBytes)
		}
	}

	if e.Mode() != ModeNone {
		t.Errorf("mode after script = %v, want none", e.Mode())
	}
}

func TestManualEndWaitsForGraceDelay(t *testing.T) {
	script := frames(2, 100)
	src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger(), audioio.WithScript(script))

	cfg := testEngineConfig()
	cfg.GraceDelay = 60 * time.Millisecond
	e, _ := New(cfg, src, nil, testLogger())
	log := &eventLog{}
	log.wire(e)

	start := time.Now()
	if err := e.StartManual(context.Background()); err != nil {
		t.Fatalf("StartManual() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, ev := range log.list() {
			if ev == "manual_end" {
				return true
			}
		}
		return false
	})

	if elapsed := time.Since(start); elapsed < cfg.GraceDelay {
		t.Errorf("manual end fired after %v, want at least %v", elapsed, cfg.GraceDelay)
	}
}

func TestCaptureModesAreExclusive(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger())
	e, _ := New(testEngineConfig(), src, nil, testLogger())

	if err := e.StartManual(context.Background()); err != nil {
		t.Fatalf("StartManual() error = %v", err)
	}
	defer e.Abort()

	if err := e.StartHandsFree(context.Background()); !errors.Is(err, ErrCaptureBusy) {
		t.Errorf("StartHandsFree() while manual error = %v, want ErrCaptureBusy", err)
	}
	if err := e.StartManual(context.Background()); !errors.Is(err, ErrCaptureBusy) {
		t.Errorf("second StartManual() error = %v, want ErrCaptureBusy", err)
	}
}

func TestStopReleasesMicSynchronously(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger())
	e, _ := New(testEngineConfig(), src, nil, testLogger())

	if err := e.StartManual(context.Background()); err != nil {
		t.Fatalf("StartManual() error = %v", err)
	}
	if !e.Recording() {
		t.Fatal("engine should be recording")
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if src.Running() {
		t.Error("source still running after Stop()")
	}
	if e.Recording() {
		t.Error("engine still recording after Stop()")
	}

	if err := e.Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("second Stop() error = %v, want ErrNotCapturing", err)
	}
}

func TestHandsFreeEmitsUtteranceAsWAV(t *testing.T) {
	// Quiet lead-in, five loud frames, then silence past redemption.
	script := frames(2, 0)
	script = append(script, frames(5, 20000)...)
	script = append(script, frames(3, 0)...)
	src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger(), audioio.WithScript(script))

	e, _ := New(testEngineConfig(), src, nil, testLogger())
	log := &eventLog{}
	log.wire(e)

	if err := e.StartHandsFree(context.Background()); err != nil {
		t.Fatalf("StartHandsFree() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.wavs) == 1
	})

	var sawStart bool
	for _, ev := range log.list() {
		if ev == "speech_start" {
			sawStart = true
		}
	}
	if !sawStart {
		t.Error("speech_start never fired")
	}

	log.mu.Lock()
	wav := log.wavs[0]
	log.mu.Unlock()

	samples, rate, channels, err := audioio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("utterance is not valid WAV: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Errorf("wav format = %d Hz %d ch, want 16000/1", rate, channels)
	}
	// 2 pad frames + 5 speech + 2 redemption.
	want := 9 * audioio.DefaultConfig().BufferSize()
	if len(samples) != want {
		t.Errorf("utterance samples = %d, want %d", len(samples), want)
	}
}

func TestHandsFreeMisfireOnShortBurst(t *testing.T) {
	script := frames(2, 20000)
	script = append(script, frames(3, 0)...)
	src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger(), audioio.WithScript(script))

	e, _ := New(testEngineConfig(), src, nil, testLogger())
	log := &eventLog{}
	log.wire(e)

	if err := e.StartHandsFree(context.Background()); err != nil {
		t.Fatalf("StartHandsFree() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, ev := range log.list() {
			if ev == "misfire" {
				return true
			}
		}
		return false
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.wavs) != 0 {
		t.Errorf("utterances = %d, want 0 for a misfire", len(log.wavs))
	}
}

func TestHandsFreeMetersOnlySpeechFrames(t *testing.T) {
	run := func(t *testing.T, script []audioio.AudioChunk) int {
		t.Helper()
		src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger(), audioio.WithScript(script))
		cfg := testEngineConfig()
		cfg.LevelInterval = time.Nanosecond
		e, _ := New(cfg, src, nil, testLogger())
		log := &eventLog{}
		log.wire(e)

		if err := e.StartHandsFree(context.Background()); err != nil {
			t.Fatalf("StartHandsFree() error = %v", err)
		}
		waitFor(t, 2*time.Second, func() bool { return e.Mode() == ModeNone })

		log.mu.Lock()
		defer log.mu.Unlock()
		return log.levels
	}

	t.Run("silence stays off the meter", func(t *testing.T) {
		if n := run(t, frames(8, 0)); n != 0 {
			t.Errorf("level callbacks = %d, want 0 for silent input", n)
		}
	})

	t.Run("speech is metered", func(t *testing.T) {
		if n := run(t, frames(8, 20000)); n == 0 {
			t.Error("level callbacks = 0, want some for loud input")
		}
	})
}

func TestLevelCallbackIsThrottled(t *testing.T) {
	script := frames(10, 500)
	src := audioio.NewMockSource(audioio.DefaultConfig(), testLogger(), audioio.WithScript(script))

	cfg := testEngineConfig()
	cfg.LevelInterval = time.Hour
	e, _ := New(cfg, src, nil, testLogger())
	log := &eventLog{}
	log.wire(e)

	if err := e.StartManual(context.Background()); err != nil {
		t.Fatalf("StartManual() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return e.Mode() == ModeNone })

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.levels != 1 {
		t.Errorf("level callbacks = %d, want 1 with a huge interval", log.levels)
	}
}

// failingSource always fails to start.
type failingSource struct {
	audioio.Source
	err error
}

func (f *failingSource) Start(context.Context) error { return f.err }
func (f *failingSource) Config() audioio.Config      { return audioio.DefaultConfig() }
func (f *failingSource) Stop() error                 { return nil }

func TestStartFaultIsClassified(t *testing.T) {
	src := &failingSource{err: errors.New("open /dev/snd: permission denied")}
	e, _ := New(testEngineConfig(), src, nil, testLogger())
	log := &eventLog{}
	log.wire(e)

	if err := e.StartManual(context.Background()); err == nil {
		t.Fatal("StartManual() should fail when the source cannot start")
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.faults) != 1 || log.faults[0] != vad.FaultPermission {
		t.Errorf("faults = %v, want [permission]", log.faults)
	}
	if e.Recording() {
		t.Error("engine should be idle after a start fault")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default ok", func(c *Config) {}, false},
		{"zero chunk duration", func(c *Config) { c.ChunkDuration = 0 }, true},
		{"negative grace", func(c *Config) { c.GraceDelay = -time.Second }, true},
		{"zero level interval", func(c *Config) { c.LevelInterval = 0 }, true},
		{"bad encoding", func(c *Config) { c.ChunkEncoding = "mp3" }, true},
		{"bad vad config", func(c *Config) { c.VAD.MinSpeechFrames = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
