package session

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/voicewire/go-voicewire/pkg/audioio"
	"github.com/voicewire/go-voicewire/pkg/conversation"
	"github.com/voicewire/go-voicewire/pkg/playback"
	"github.com/voicewire/go-voicewire/pkg/protocol"
)

// Player is the slice of the playback controller the aggregator uses.
type Player interface {
	Play(id string, audio audioio.AudioChunk) error
	PlayWAV(id string, wav []byte) error
	Stop() error
	State() playback.State
}

// TextKind tags text routed to a TextSink.
type TextKind string

const (
	// TextTranscript is a final user transcription.
	TextTranscript TextKind = "transcript"

	// TextResponse is a complete assistant response.
	TextResponse TextKind = "response"
)

// Aggregator folds the incoming event stream into conversation state:
// transcripts and response chunks go to the store, TTS audio is
// reassembled from binary frames and handed to the player.
type Aggregator struct {
	store  *conversation.Store
	player Player
	logger *slog.Logger

	mu           sync.Mutex
	transcribing bool
	thinking     bool
	ttsActive    bool
	ttsFormat    string
	ttsBuf       []byte
	respBuf      string
	dropped      int

	textSink      func(kind TextKind, text string)
	onPartial     func(text string)
	onFlags       func(transcribing, thinking bool)
	onServerError func(message string)
}

// NewAggregator creates an aggregator over the given store and player.
func NewAggregator(store *conversation.Store, player Player, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:  store,
		player: player,
		logger: logger.With("component", "aggregator"),
	}
}

// SetTextSink routes final transcripts and complete responses to fn
// instead of the conversation store, for surfaces like a writer pane.
// Pass nil to restore store routing.
func (a *Aggregator) SetTextSink(fn func(kind TextKind, text string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.textSink = fn
}

// OnPartialTranscript sets the callback for interim transcription text.
func (a *Aggregator) OnPartialTranscript(fn func(text string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPartial = fn
}

// OnFlagsChange sets the callback fired when the transcribing or
// thinking flag changes.
func (a *Aggregator) OnFlagsChange(fn func(transcribing, thinking bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFlags = fn
}

// OnServerError sets the callback for server-reported errors.
func (a *Aggregator) OnServerError(fn func(message string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onServerError = fn
}

// Flags returns the current transcribing and thinking flags.
func (a *Aggregator) Flags() (transcribing, thinking bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcribing, a.thinking
}

// DroppedFrames returns how many protocol-fault frames were discarded.
func (a *Aggregator) DroppedFrames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// UserTextSent echoes a typed message into the store immediately and
// marks the assistant as thinking, without waiting for the server.
func (a *Aggregator) UserTextSent(text string) {
	a.store.AppendUser(text)
	a.setFlags(nil, boolPtr(true))
}

// ClearThinking drops the thinking flag, used after an interrupt.
func (a *Aggregator) ClearThinking() {
	a.setFlags(nil, boolPtr(false))
	a.store.ClearStreaming()
}

// HandleMessage applies one incoming control message.
func (a *Aggregator) HandleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeTranscription:
		a.handleTranscription(msg)
	case protocol.TypeLLMChunk:
		a.handleChunk(msg)
	case protocol.TypeTTSStart:
		a.handleTTSStart(msg)
	case protocol.TypeTTSEnd:
		a.handleTTSEnd()
	case protocol.TypeTTSAudio:
		a.handleTTSAudio(msg)
	case protocol.TypeError:
		a.handleError(msg)
	case protocol.TypePong:
		// Latency is measured in transport.
	default:
		a.logger.Warn("dropping unexpected message", "type", msg.Type)
		a.countDrop()
	}
}

// HandleBinary buffers one TTS audio fragment. Fragments outside an
// announced stream are a protocol fault and are dropped.
func (a *Aggregator) HandleBinary(data []byte) {
	a.mu.Lock()
	if !a.ttsActive {
		a.dropped++
		a.mu.Unlock()
		a.logger.Warn("audio frame outside tts stream, dropping", "bytes", len(data))
		return
	}
	a.ttsBuf = append(a.ttsBuf, data...)
	a.mu.Unlock()
}

// HandleDisconnect discards partial state that must not survive a
// reconnect: the TTS buffer, the flags, and any streaming message.
func (a *Aggregator) HandleDisconnect() {
	a.mu.Lock()
	a.ttsActive = false
	a.ttsFormat = ""
	a.ttsBuf = nil
	a.respBuf = ""
	a.mu.Unlock()

	a.setFlags(boolPtr(false), boolPtr(false))
	a.store.ClearStreaming()
}

func (a *Aggregator) handleTranscription(msg *protocol.Message) {
	if msg.IsPartial {
		a.setFlags(boolPtr(true), nil)
		a.mu.Lock()
		cb := a.onPartial
		a.mu.Unlock()
		if cb != nil {
			cb(msg.Text)
		}
		return
	}

	a.setFlags(boolPtr(false), boolPtr(true))
	a.mu.Lock()
	sink := a.textSink
	a.mu.Unlock()
	if sink != nil {
		sink(TextTranscript, msg.Text)
		return
	}
	a.store.AppendUser(msg.Text)
}

func (a *Aggregator) handleChunk(msg *protocol.Message) {
	a.mu.Lock()
	sink := a.textSink
	if sink != nil && msg.Content != "" {
		a.respBuf += msg.Content
	}
	a.mu.Unlock()

	if sink == nil && msg.Content != "" {
		a.store.AppendAssistantChunk(msg.Content)
	}

	if !msg.IsFinal {
		return
	}

	a.setFlags(nil, boolPtr(false))
	if sink != nil {
		a.mu.Lock()
		full := msg.FullResponse
		if full == "" {
			full = a.respBuf
		}
		a.respBuf = ""
		a.mu.Unlock()
		sink(TextResponse, full)
		return
	}
	if _, ok := a.store.FinalizeAssistant(msg.FullResponse); !ok && msg.FullResponse != "" {
		// The backend can send a lone final chunk whose text lives
		// entirely in full_response. Record it as a complete message.
		a.store.AppendAssistant(msg.FullResponse)
	}
}

func (a *Aggregator) handleTTSStart(msg *protocol.Message) {
	a.mu.Lock()
	if a.ttsActive {
		a.logger.Warn("tts_start while a stream is open, restarting buffer")
	}
	a.ttsActive = true
	a.ttsFormat = msg.Format
	a.ttsBuf = a.ttsBuf[:0]
	a.mu.Unlock()
}

func (a *Aggregator) handleTTSEnd() {
	a.mu.Lock()
	if !a.ttsActive {
		a.dropped++
		a.mu.Unlock()
		a.logger.Warn("tts_end without tts_start, dropping")
		return
	}
	audio := make([]byte, len(a.ttsBuf))
	copy(audio, a.ttsBuf)
	format := a.ttsFormat
	a.ttsActive = false
	a.ttsBuf = a.ttsBuf[:0]
	a.mu.Unlock()

	if len(audio) == 0 {
		a.logger.Warn("tts stream ended empty")
		return
	}

	id := uuid.NewString()
	a.store.AttachAudio(id)
	a.play(id, format, audio)
}

// handleTTSAudio is the base64 fallback path: the whole utterance
// arrives in one control message and plays immediately.
func (a *Aggregator) handleTTSAudio(msg *protocol.Message) {
	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		a.logger.Warn("invalid base64 tts audio, dropping", "error", err)
		a.countDrop()
		return
	}
	a.play(uuid.NewString(), msg.Format, audio)
}

func (a *Aggregator) handleError(msg *protocol.Message) {
	a.logger.Warn("server error", "message", msg.Message)
	a.setFlags(boolPtr(false), boolPtr(false))
	a.store.ClearStreaming()

	a.mu.Lock()
	cb := a.onServerError
	a.mu.Unlock()
	if cb != nil {
		cb(msg.Message)
	}
}

// play routes assembled audio to the player. WAV payloads are decoded;
// anything else is treated as raw PCM at the protocol rate.
func (a *Aggregator) play(id, format string, audio []byte) {
	var err error
	if format == "wav" || bytes.HasPrefix(audio, []byte("RIFF")) {
		err = a.player.PlayWAV(id, audio)
	} else {
		err = a.player.Play(id, audioio.AudioChunk{
			Samples:    audioio.BytesToSamples(audio),
			SampleRate: 16000,
			Channels:   1,
		})
	}
	if err != nil {
		a.logger.Error("playback failed", "id", id, "format", format, "error", err)
	}
}

func (a *Aggregator) countDrop() {
	a.mu.Lock()
	a.dropped++
	a.mu.Unlock()
}

// setFlags updates the flags and fires the change callback once.
func (a *Aggregator) setFlags(transcribing, thinking *bool) {
	a.mu.Lock()
	changed := false
	if transcribing != nil && a.transcribing != *transcribing {
		a.transcribing = *transcribing
		changed = true
	}
	if thinking != nil && a.thinking != *thinking {
		a.thinking = *thinking
		changed = true
	}
	tr, th := a.transcribing, a.thinking
	cb := a.onFlags
	a.mu.Unlock()

	if changed && cb != nil {
		cb(tr, th)
	}
}

func boolPtr(b bool) *bool { return &b }
