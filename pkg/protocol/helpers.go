package protocol

// Constructors for outgoing control messages.

// NewStartRecording creates a start_recording message.
func NewStartRecording() *Message {
	return &Message{Type: TypeStartRecording}
}

// NewEndOfSpeech creates an end_of_speech message.
func NewEndOfSpeech() *Message {
	return &Message{Type: TypeEndOfSpeech}
}

// NewTextMessage creates a text_message with the given text.
func NewTextMessage(text string) *Message {
	return &Message{Type: TypeTextMessage, Text: text}
}

// NewInterrupt creates an interrupt message.
func NewInterrupt() *Message {
	return &Message{Type: TypeInterrupt}
}

// NewPing creates a ping message.
func NewPing() *Message {
	return &Message{Type: TypePing}
}
