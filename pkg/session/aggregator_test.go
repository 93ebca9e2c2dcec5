package session

import (
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/go-voicewire/pkg/audioio"
	"github.com/voicewire/go-voicewire/pkg/conversation"
	"github.com/voicewire/go-voicewire/pkg/playback"
	"github.com/voicewire/go-voicewire/pkg/protocol"
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

func newTestAggregator(t *testing.T) (*Aggregator, *conversation.Store, *audioio.MockSink) {
	t.Helper()
	store := conversation.NewStore(testLogger())
	sink := audioio.NewMockSink(audioio.DefaultConfig(), testLogger())
	player, err := playback.New(sink, testLogger())
	if err != nil {
		t.Fatalf("playback.New() error = %v", err)
	}
	t.Cleanup(func() { player.Close() })
	return NewAggregator(store, player, testLogger()), store, sink
}

func TestTranscriptionFlow(t *testing.T) {
	agg, store, _ := newTestAggregator(t)

	var mu sync.Mutex
	var partials []string
	agg.OnPartialTranscript(func(text string) {
		mu.Lock()
		defer mu.Unlock()
		partials = append(partials, text)
	})

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "hel", IsPartial: true})
	if tr, _ := agg.Flags(); !tr {
		t.Error("partial transcription should set transcribing")
	}

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "hello world"})
	tr, th := agg.Flags()
	if tr {
		t.Error("final transcription should clear transcribing")
	}
	if !th {
		t.Error("final transcription should set thinking")
	}

	mu.Lock()
	if len(partials) != 1 || partials[0] != "hel" {
		t.Errorf("partials = %v, want [hel]", partials)
	}
	mu.Unlock()

	active, ok := store.Active()
	if !ok || len(active.Messages) != 1 {
		t.Fatalf("store should hold the final transcript, got %+v", active)
	}
	if m := active.Messages[0]; m.Role != conversation.RoleUser || m.Content != "hello world" {
		t.Errorf("message = %+v", m)
	}
}

func TestResponseStreamingAndFinalize(t *testing.T) {
	agg, store, _ := newTestAggregator(t)

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "question"})
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeLLMChunk, Content: "The answer"})
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeLLMChunk, Content: " is 42."})

	active, _ := store.Active()
	if len(active.Messages) != 2 || !active.Messages[1].Streaming {
		t.Fatalf("expected one streaming assistant message, got %+v", active.Messages)
	}

	agg.HandleMessage(&protocol.Message{
		Type:         protocol.TypeLLMChunk,
		IsFinal:      true,
		FullResponse: "The answer is 42, obviously.",
	})

	if _, th := agg.Flags(); th {
		t.Error("final chunk should clear thinking")
	}
	active, _ = store.Active()
	m := active.Messages[1]
	if m.Streaming {
		t.Error("message still streaming after final chunk")
	}
	if m.Content != "The answer is 42, obviously." {
		t.Errorf("content = %q, want the full response", m.Content)
	}
}

func TestLoneFinalChunkIsRecorded(t *testing.T) {
	agg, store, _ := newTestAggregator(t)

	// Short responses can arrive as a single final chunk with empty
	// content and the text only in full_response.
	agg.HandleMessage(&protocol.Message{
		Type:         protocol.TypeLLMChunk,
		IsFinal:      true,
		FullResponse: "hello there",
	})

	active, ok := store.Active()
	if !ok || len(active.Messages) != 1 {
		t.Fatalf("store should hold the response, got %+v", active)
	}
	m := active.Messages[0]
	if m.Role != conversation.RoleAssistant || m.Content != "hello there" || m.Streaming {
		t.Errorf("message = %+v, want finalized assistant text", m)
	}
}

func TestTTSReassembly(t *testing.T) {
	agg, _, sink := newTestAggregator(t)

	samples := make([]int16, 640)
	for i := range samples {
		samples[i] = int16(i)
	}
	wav := audioio.EncodeWAV(samples, 16000, 1)

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSStart, Format: "wav"})
	// The stream arrives fragmented.
	agg.HandleBinary(wav[:100])
	agg.HandleBinary(wav[100:700])
	agg.HandleBinary(wav[700:])
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSEnd})

	waitFor(t, time.Second, func() bool {
		return len(sink.WrittenBytes()) == len(samples)*2
	})
	if agg.DroppedFrames() != 0 {
		t.Errorf("dropped = %d, want 0", agg.DroppedFrames())
	}
}

func TestTTSEndAttachesAudioToAssistantMessage(t *testing.T) {
	agg, store, sink := newTestAggregator(t)

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "question"})
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeLLMChunk, Content: "answer", IsFinal: true, FullResponse: "answer"})

	wav := audioio.EncodeWAV([]int16{1, 2, 3, 4, 5, 6, 7, 8}, 16000, 1)
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSStart, Format: "wav"})
	agg.HandleBinary(wav)
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSEnd})

	waitFor(t, time.Second, func() bool { return len(sink.WrittenBytes()) > 0 })

	active, _ := store.Active()
	last := active.Messages[len(active.Messages)-1]
	if last.Role != conversation.RoleAssistant || last.AudioID == "" {
		t.Errorf("assistant message should carry the audio id, got %+v", last)
	}
}

func TestBinaryOutsideStreamIsDropped(t *testing.T) {
	agg, _, sink := newTestAggregator(t)

	agg.HandleBinary([]byte{1, 2, 3})
	if agg.DroppedFrames() != 1 {
		t.Errorf("dropped = %d, want 1", agg.DroppedFrames())
	}

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSEnd})
	if agg.DroppedFrames() != 2 {
		t.Errorf("dropped = %d, want 2 after stray tts_end", agg.DroppedFrames())
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(sink.WrittenBytes()); n != 0 {
		t.Errorf("sink received %d bytes, want 0", n)
	}
}

func TestBase64FallbackPlaysImmediately(t *testing.T) {
	agg, _, sink := newTestAggregator(t)

	samples := []int16{10, 20, 30, 40, 50, 60, 70, 80}
	wav := audioio.EncodeWAV(samples, 16000, 1)

	agg.HandleMessage(&protocol.Message{
		Type:   protocol.TypeTTSAudio,
		Audio:  base64.StdEncoding.EncodeToString(wav),
		Format: "wav",
	})

	waitFor(t, time.Second, func() bool {
		return len(sink.WrittenBytes()) == len(samples)*2
	})
}

func TestInvalidBase64IsDropped(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSAudio, Audio: "!!not base64!!"})
	if agg.DroppedFrames() != 1 {
		t.Errorf("dropped = %d, want 1", agg.DroppedFrames())
	}
}

func TestServerErrorClearsFlags(t *testing.T) {
	agg, store, _ := newTestAggregator(t)

	var mu sync.Mutex
	var serverErr string
	agg.OnServerError(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		serverErr = msg
	})

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "x", IsPartial: true})
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeLLMChunk, Content: "partial resp"})
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeError, Message: "backend exploded"})

	tr, th := agg.Flags()
	if tr || th {
		t.Errorf("flags after error = (%v, %v), want both false", tr, th)
	}
	mu.Lock()
	if serverErr != "backend exploded" {
		t.Errorf("server error = %q", serverErr)
	}
	mu.Unlock()

	active, _ := store.Active()
	for _, m := range active.Messages {
		if m.Streaming {
			t.Error("streaming flag should be cleared on error")
		}
	}
}

func TestDisconnectDiscardsTTSBuffer(t *testing.T) {
	agg, _, sink := newTestAggregator(t)

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSStart, Format: "wav"})
	agg.HandleBinary([]byte{1, 2, 3, 4})

	agg.HandleDisconnect()

	// A tts_end arriving after reconnect has nothing to finish.
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTTSEnd})
	if agg.DroppedFrames() != 1 {
		t.Errorf("dropped = %d, want 1", agg.DroppedFrames())
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.WrittenBytes()); n != 0 {
		t.Errorf("sink received %d bytes after disconnect, want 0", n)
	}
}

func TestTextSinkRouting(t *testing.T) {
	agg, store, _ := newTestAggregator(t)

	var mu sync.Mutex
	got := map[TextKind]string{}
	agg.SetTextSink(func(kind TextKind, text string) {
		mu.Lock()
		defer mu.Unlock()
		got[kind] = text
	})

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "dictated sentence"})
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeLLMChunk, Content: "improved "})
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeLLMChunk, Content: "sentence", IsFinal: true})

	mu.Lock()
	defer mu.Unlock()
	if got[TextTranscript] != "dictated sentence" {
		t.Errorf("transcript = %q", got[TextTranscript])
	}
	if got[TextResponse] != "improved sentence" {
		t.Errorf("response = %q", got[TextResponse])
	}

	// Nothing should have landed in the chat store.
	if _, ok := store.Active(); ok {
		t.Error("store should be untouched while a text sink is set")
	}
}

func TestUserTextEcho(t *testing.T) {
	agg, store, _ := newTestAggregator(t)

	agg.UserTextSent("typed message")

	if _, th := agg.Flags(); !th {
		t.Error("UserTextSent should set thinking")
	}
	active, ok := store.Active()
	if !ok || len(active.Messages) != 1 || active.Messages[0].Content != "typed message" {
		t.Errorf("store = %+v, want the echoed message", active)
	}

	agg.ClearThinking()
	if _, th := agg.Flags(); th {
		t.Error("ClearThinking should drop the flag")
	}
}

func TestFlagsChangeCallback(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	var mu sync.Mutex
	var changes int
	agg.OnFlagsChange(func(_, _ bool) {
		mu.Lock()
		defer mu.Unlock()
		changes++
	})

	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "a", IsPartial: true})
	// Same flags again: no change event.
	agg.HandleMessage(&protocol.Message{Type: protocol.TypeTranscription, Text: "ab", IsPartial: true})

	mu.Lock()
	defer mu.Unlock()
	if changes != 1 {
		t.Errorf("flag changes = %d, want 1", changes)
	}
}
