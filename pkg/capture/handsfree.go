package capture

import (
	"context"
	"errors"
	"io"

	"github.com/voicewire/go-voicewire/pkg/audioio"
	"github.com/voicewire/go-voicewire/pkg/vad"
)

// StartHandsFree opens the microphone with voice activity detection.
// Utterances are delivered whole, as WAV, when the speaker pauses.
func (e *Engine) StartHandsFree(ctx context.Context) error {
	detector, err := vad.NewDetector(e.cfg.VAD, e.classifier, e.logger)
	if err != nil {
		return err
	}

	detector.OnSpeechStart(func() {
		e.mu.Lock()
		cb := e.onSpeechStart
		e.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	detector.OnSpeechEnd(func(u audioio.AudioChunk) {
		wav := audioio.EncodeWAV(u.Samples, u.SampleRate, u.Channels)
		e.mu.Lock()
		cb := e.onUtterance
		e.mu.Unlock()
		if cb != nil {
			cb(wav)
		}
	})
	detector.OnMisfire(func() {
		e.mu.Lock()
		cb := e.onMisfire
		e.mu.Unlock()
		if cb != nil {
			cb()
		}
	})

	// Level metering only while the classifier hears something; quiet
	// frames between utterances stay off the meter. The callback runs
	// synchronously inside Process, so current holds the frame it saw.
	current := new(audioio.AudioChunk)
	detector.OnFrameProcessed(func(prob float64, _ bool) {
		if prob >= e.cfg.VAD.NegativeThreshold {
			e.meterLevel(*current)
		}
	})

	stop, err := e.begin(ctx, ModeVAD)
	if err != nil {
		return err
	}

	e.logger.Debug("hands-free capture started",
		"positive_threshold", e.cfg.VAD.PositiveThreshold,
		"negative_threshold", e.cfg.VAD.NegativeThreshold,
	)
	e.wg.Add(1)
	go e.handsFreeLoop(ctx, stop, detector, current)
	return nil
}

func (e *Engine) handsFreeLoop(ctx context.Context, stop chan struct{}, detector *vad.Detector, current *audioio.AudioChunk) {
	defer e.wg.Done()

	for {
		chunk, err := e.source.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) && !isClosed(stop) {
				e.fault(err)
			}
			// An utterance cut off by stop is dropped, not emitted.
			detector.Reset()
			e.finish(stop)
			return
		}

		*current = chunk
		if err := detector.Process(chunk); err != nil {
			e.fault(err)
			e.finish(stop)
			return
		}
	}
}
