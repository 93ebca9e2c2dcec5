package capture

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/voicewire/go-voicewire/pkg/audioio"
)

// opusEncoder wraps an Opus encoder for per-frame packet encoding.
// Source frames must be a valid Opus frame length (the default 20 ms
// buffer is).
type opusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

func newOpusEncoder(cfg audioio.Config) (*opusEncoder, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("capture: create opus encoder: %w", err)
	}
	return &opusEncoder{
		enc: enc,
		buf: make([]byte, 4000),
	}, nil
}

// encode compresses one PCM frame into a standalone Opus packet.
func (o *opusEncoder) encode(pcm []int16) ([]byte, error) {
	n, err := o.enc.Encode(pcm, o.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, o.buf[:n])
	return out, nil
}
