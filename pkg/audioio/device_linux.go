//go:build linux

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// DeviceSource captures audio from the system microphone via arecord.
// The process is killed on Stop so the OS releases the capture device
// (and any mic-in-use indicator) immediately.
type DeviceSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk
}

// newDeviceSource creates a new arecord-backed source.
func newDeviceSource(cfg Config, logger *slog.Logger) (Source, error) {
	if _, err := exec.LookPath("arecord"); err != nil {
		return nil, fmt.Errorf("audioio: arecord not found: %w", err)
	}

	return &DeviceSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// Start begins audio capture.
func (s *DeviceSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	args := []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
	}
	if s.cfg.Device != "" {
		args = append(args, "-D", s.cfg.Device)
	}

	cmd := exec.Command("arecord", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audioio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioio: start arecord: %w", err)
	}

	s.cmd = cmd
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)

	go s.readLoop(ctx, stdout)

	s.logger.Info("device audio source started",
		"sample_rate", s.cfg.SampleRate,
		"device", s.cfg.Device,
	)

	return nil
}

func (s *DeviceSource) readLoop(ctx context.Context, r io.Reader) {
	defer func() {
		s.mu.Lock()
		ch := s.streamCh
		wasRunning := s.running
		s.running = false
		s.cmd = nil
		s.mu.Unlock()
		if wasRunning {
			close(ch)
		}
	}()

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			// Process exited (Stop killed it) or the device failed.
			return
		}

		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)

		select {
		case s.streamCh <- chunk:
		default:
			s.logger.Debug("device source: buffer full, dropping chunk")
		}
	}
}

// Stop halts audio capture and releases the microphone.
func (s *DeviceSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// readLoop closes the channel and clears state once arecord exits.

	s.logger.Info("device audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (s *DeviceSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *DeviceSource) Stream() <-chan AudioChunk {
	return s.streamCh
}

// Config returns the audio configuration.
func (s *DeviceSource) Config() Config {
	return s.cfg
}

// Name returns "device".
func (s *DeviceSource) Name() string {
	return "device"
}

// Close releases resources.
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// DeviceSink plays audio through the system speaker via aplay.
type DeviceSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
}

// newDeviceSink creates a new aplay-backed sink.
func newDeviceSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if _, err := exec.LookPath("aplay"); err != nil {
		return nil, fmt.Errorf("audioio: aplay not found: %w", err)
	}

	return &DeviceSink{cfg: cfg, logger: logger}, nil
}

// Start launches the playback process.
func (s *DeviceSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	return s.startLocked()
}

func (s *DeviceSink) startLocked() error {
	args := []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
	}
	if s.cfg.Device != "" {
		args = append(args, "-D", s.cfg.Device)
	}

	cmd := exec.Command("aplay", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("audioio: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioio: start aplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true

	s.logger.Debug("device audio sink started", "sample_rate", s.cfg.SampleRate)

	return nil
}

// Stop kills the playback process, discarding buffered audio.
func (s *DeviceSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *DeviceSink) stopLocked() error {
	if !s.running {
		return nil
	}

	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	s.running = false

	s.logger.Debug("device audio sink stopped")

	return nil
}

// Write sends an audio chunk to the playback process.
func (s *DeviceSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.stdin == nil {
		return io.ErrClosedPipe
	}

	samples := chunk.Samples
	if chunk.SampleRate != s.cfg.SampleRate {
		samples = Resample(samples, chunk.SampleRate, s.cfg.SampleRate)
	}

	if _, err := s.stdin.Write(SamplesToBytes(samples)); err != nil {
		// Playback process died; release it so the next Start recovers.
		_ = s.stopLocked()
		return fmt.Errorf("audioio: write to aplay: %w", err)
	}

	return nil
}

// Flush waits for buffered audio by closing stdin and waiting for exit.
func (s *DeviceSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}

	done := make(chan error, 1)
	cmd := s.cmd
	go func() {
		if cmd != nil {
			done <- cmd.Wait()
		} else {
			done <- nil
		}
	}()

	select {
	case <-ctx.Done():
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		s.cmd = nil
		s.running = false
		return ctx.Err()
	case <-done:
	}

	s.cmd = nil
	s.running = false
	return nil
}

// Clear discards buffered audio by restarting the playback process.
// The sink stays running, ready for the next Write.
func (s *DeviceSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	if err := s.stopLocked(); err != nil {
		return err
	}
	return s.startLocked()
}

// Config returns the audio configuration.
func (s *DeviceSink) Config() Config {
	return s.cfg
}

// Name returns "device".
func (s *DeviceSink) Name() string {
	return "device"
}

// Close releases resources.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}
