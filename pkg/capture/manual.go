package capture

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/voicewire/go-voicewire/pkg/audioio"
)

// StartManual opens the microphone for push-to-talk streaming. The
// manual start event fires before the first chunk is emitted.
func (e *Engine) StartManual(ctx context.Context) error {
	var enc *opusEncoder
	if e.cfg.ChunkEncoding == EncodingOpus {
		var err error
		enc, err = newOpusEncoder(e.source.Config())
		if err != nil {
			e.fault(err)
			return err
		}
	}

	stop, err := e.begin(ctx, ModeManual)
	if err != nil {
		return err
	}

	e.mu.Lock()
	cb := e.onManualStart
	e.mu.Unlock()
	if cb != nil {
		cb()
	}

	e.logger.Debug("manual capture started", "encoding", e.cfg.ChunkEncoding)
	e.wg.Add(1)
	go e.manualLoop(ctx, stop, enc)
	return nil
}

func (e *Engine) manualLoop(ctx context.Context, stop chan struct{}, enc *opusEncoder) {
	defer e.wg.Done()

	samplesPerChunk := int(e.cfg.ChunkDuration.Seconds() * float64(e.source.Config().SampleRate))
	if samplesPerChunk < 1 {
		samplesPerChunk = 1
	}
	var batch []int16

	for {
		chunk, err := e.source.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || isClosed(stop) {
				e.flushManual(batch, enc)
				e.scheduleManualEnd()
			} else {
				e.fault(err)
			}
			e.finish(stop)
			return
		}

		e.meterLevel(chunk)

		if enc != nil {
			pkt, err := enc.encode(chunk.Samples)
			if err != nil {
				e.logger.Warn("opus encode failed, dropping frame", "error", err)
				continue
			}
			e.emitChunk(pkt, EncodingOpus)
			continue
		}

		batch = append(batch, chunk.Samples...)
		if len(batch) >= samplesPerChunk {
			e.emitChunk(audioio.SamplesToBytes(batch), EncodingPCM)
			batch = batch[:0]
		}
	}
}

// flushManual emits whatever partial chunk remains when capture stops.
func (e *Engine) flushManual(batch []int16, enc *opusEncoder) {
	if enc != nil || len(batch) == 0 {
		return
	}
	e.emitChunk(audioio.SamplesToBytes(batch), EncodingPCM)
}

// scheduleManualEnd fires the manual end event after the grace delay,
// giving in-flight audio time to land before end of speech is declared.
func (e *Engine) scheduleManualEnd() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graceTimer != nil {
		e.graceTimer.Stop()
	}
	e.graceTimer = time.AfterFunc(e.cfg.GraceDelay, func() {
		e.mu.Lock()
		e.graceTimer = nil
		cb := e.onManualEnd
		e.mu.Unlock()

		e.logger.Debug("manual capture ended")
		if cb != nil {
			cb()
		}
	})
}

func (e *Engine) emitChunk(data []byte, enc Encoding) {
	e.mu.Lock()
	cb := e.onChunk
	e.mu.Unlock()
	if cb != nil {
		cb(data, enc)
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
