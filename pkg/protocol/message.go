// Package protocol defines the WebSocket message types exchanged with the
// speech backend over the audio-stream socket. Control messages are flat
// JSON text frames; audio travels as raw binary frames alongside them.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type identifies a control message.
type Type string

const (
	// Client → Server messages
	TypeStartRecording Type = "start_recording" // clear server-side audio buffer
	TypeEndOfSpeech    Type = "end_of_speech"   // utterance complete, start transcription
	TypeTextMessage    Type = "text_message"    // typed user message
	TypeInterrupt      Type = "interrupt"       // barge-in, cancel current response
	TypePing           Type = "ping"            // heartbeat

	// Server → Client messages
	TypeTranscription Type = "transcription" // partial or final transcript
	TypeLLMChunk      Type = "llm_chunk"     // streaming LLM response
	TypeTTSAudio      Type = "tts_audio"     // base64 audio (legacy fallback)
	TypeTTSStart      Type = "tts_start"     // binary audio stream follows
	TypeTTSEnd        Type = "tts_end"       // binary audio stream complete
	TypeError         Type = "error"         // server-reported error
	TypePong          Type = "pong"          // heartbeat response
)

// Message is the flat control-message format used in both directions.
// Only the fields relevant to a given Type are populated.
type Message struct {
	Type Type `json:"type"`

	// Text carries the payload of text_message and transcription.
	Text string `json:"text,omitempty"`

	// IsPartial marks an interim transcription.
	IsPartial bool `json:"is_partial,omitempty"`

	// Content is an incremental llm_chunk fragment.
	Content string `json:"content,omitempty"`

	// IsFinal marks the last llm_chunk of a response.
	IsFinal bool `json:"is_final,omitempty"`

	// FullResponse is the complete response text, set on the final llm_chunk.
	FullResponse string `json:"full_response,omitempty"`

	// Audio is base64-encoded audio on the tts_audio fallback path.
	Audio string `json:"audio,omitempty"`

	// Format names the audio container for tts_audio/tts_start ("wav", "mp3").
	Format string `json:"format,omitempty"`

	// Message is the human-readable text of an error event.
	Message string `json:"message,omitempty"`
}

// Encode returns the JSON encoding of the message.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Parse decodes a control message from a text frame.
// Messages with an empty type are rejected; unknown types are returned
// as-is so the dispatcher can log and drop them.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: message has no type")
	}
	return &msg, nil
}

// Known reports whether the message type is part of the protocol.
func (t Type) Known() bool {
	switch t {
	case TypeStartRecording, TypeEndOfSpeech, TypeTextMessage, TypeInterrupt, TypePing,
		TypeTranscription, TypeLLMChunk, TypeTTSAudio, TypeTTSStart, TypeTTSEnd,
		TypeError, TypePong:
		return true
	}
	return false
}
