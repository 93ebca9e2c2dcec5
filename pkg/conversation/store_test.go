package conversation

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testStore() *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLazyCreationOnFirstMessage(t *testing.T) {
	s := testStore()

	if _, ok := s.Active(); ok {
		t.Fatal("fresh store should have no active conversation")
	}

	s.AppendUser("hello there")

	active, ok := s.Active()
	if !ok {
		t.Fatal("first message should create a conversation")
	}
	if active.Title != "hello there" {
		t.Errorf("title = %q, want the first message", active.Title)
	}
	if len(active.Messages) != 1 || active.Messages[0].Role != RoleUser {
		t.Errorf("unexpected messages: %+v", active.Messages)
	}
}

func TestTitleTruncation(t *testing.T) {
	s := testStore()
	long := strings.Repeat("a", 80)
	s.AppendUser(long)

	active, _ := s.Active()
	want := strings.Repeat("a", 50) + "..."
	if active.Title != want {
		t.Errorf("title = %q, want %q", active.Title, want)
	}

	// A later message must not overwrite the title.
	s.AppendUser("second message")
	active, _ = s.Active()
	if active.Title != want {
		t.Errorf("title changed to %q after second message", active.Title)
	}
}

func TestListIsNewestFirst(t *testing.T) {
	s := testStore()
	first := s.New()
	second := s.New()
	third := s.New()

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	if list[0].ID != third || list[1].ID != second || list[2].ID != first {
		t.Errorf("list order = [%s %s %s], want newest first", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestSelect(t *testing.T) {
	s := testStore()
	first := s.New()
	s.New()

	if err := s.Select(first); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	active, _ := s.Active()
	if active.ID != first {
		t.Errorf("active = %s, want %s", active.ID, first)
	}

	if err := s.Select("nope"); err != ErrNotFound {
		t.Errorf("Select(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteActiveSelectsFirstRemaining(t *testing.T) {
	s := testStore()
	oldest := s.New()
	middle := s.New()
	newest := s.New() // active

	if err := s.Delete(newest); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	// The first of the remaining list (newest first) becomes active.
	active, ok := s.Active()
	if !ok || active.ID != middle {
		t.Errorf("active after delete = %v, want %s", active.ID, middle)
	}

	if err := s.Delete(middle); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	active, ok = s.Active()
	if !ok || active.ID != oldest {
		t.Errorf("active after second delete = %v, want %s", active.ID, oldest)
	}

	if err := s.Delete(oldest); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := s.Active(); ok {
		t.Error("empty store should have no active conversation")
	}
}

func TestDeleteInactiveKeepsSelection(t *testing.T) {
	s := testStore()
	other := s.New()
	active := s.New()

	if err := s.Delete(other); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, ok := s.Active()
	if !ok || got.ID != active {
		t.Errorf("active = %v, want unchanged %s", got.ID, active)
	}

	if err := s.Delete("nope"); err != ErrNotFound {
		t.Errorf("Delete(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestAssistantStreaming(t *testing.T) {
	s := testStore()
	s.AppendUser("question")

	s.AppendAssistantChunk("The answer")
	s.AppendAssistantChunk(" is 42.")

	active, _ := s.Active()
	if len(active.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (chunks share one message)", len(active.Messages))
	}
	m := active.Messages[1]
	if m.Content != "The answer is 42." || !m.Streaming {
		t.Errorf("streaming message = %+v", m)
	}

	final, ok := s.FinalizeAssistant("")
	if !ok {
		t.Fatal("FinalizeAssistant() found nothing streaming")
	}
	if final.Streaming || final.Content != "The answer is 42." {
		t.Errorf("finalized message = %+v", final)
	}

	if _, ok := s.FinalizeAssistant(""); ok {
		t.Error("second finalize should find nothing streaming")
	}
}

func TestFinalizeWithFullResponseReplacesContent(t *testing.T) {
	s := testStore()
	s.AppendAssistantChunk("partial")

	final, ok := s.FinalizeAssistant("the complete response")
	if !ok {
		t.Fatal("FinalizeAssistant() found nothing streaming")
	}
	if final.Content != "the complete response" {
		t.Errorf("content = %q, want the full response", final.Content)
	}
}

func TestAppendAssistantWholeMessage(t *testing.T) {
	s := testStore()
	s.AppendUser("question")

	msg := s.AppendAssistant("whole response")
	if msg.Streaming {
		t.Error("whole message should not be streaming")
	}

	active, _ := s.Active()
	if len(active.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(active.Messages))
	}
	if m := active.Messages[1]; m.Role != RoleAssistant || m.Content != "whole response" {
		t.Errorf("message = %+v", m)
	}
	if _, ok := s.FinalizeAssistant(""); ok {
		t.Error("nothing should be streaming after AppendAssistant")
	}
}

func TestAtMostOneStreamingMessage(t *testing.T) {
	s := testStore()
	s.AppendAssistantChunk("a")
	s.AppendAssistantChunk("b")

	active, _ := s.Active()
	streaming := 0
	for _, m := range active.Messages {
		if m.Streaming {
			streaming++
		}
	}
	if streaming != 1 {
		t.Errorf("streaming messages = %d, want 1", streaming)
	}
}

func TestAttachAudio(t *testing.T) {
	s := testStore()
	s.AppendUser("question")
	s.AppendAssistantChunk("spoken answer")
	s.FinalizeAssistant("")

	if !s.AttachAudio("audio-1") {
		t.Fatal("AttachAudio() should find the assistant message")
	}
	active, _ := s.Active()
	if got := active.Messages[1].AudioID; got != "audio-1" {
		t.Errorf("audio id = %q, want audio-1", got)
	}
	// The user message is left alone.
	if active.Messages[0].AudioID != "" {
		t.Error("audio id attached to the wrong message")
	}

	s2 := testStore()
	s2.AppendUser("no reply yet")
	if s2.AttachAudio("audio-2") {
		t.Error("AttachAudio() with no assistant message should report false")
	}
}

func TestClearStreaming(t *testing.T) {
	s := testStore()
	s.AppendAssistantChunk("interrupted thou")
	s.ClearStreaming()

	active, _ := s.Active()
	m := active.Messages[0]
	if m.Streaming {
		t.Error("message still streaming after ClearStreaming()")
	}
	if m.Content != "interrupted thou" {
		t.Errorf("content = %q, should keep accumulated text", m.Content)
	}

	// Safe when nothing is active or streaming.
	s2 := testStore()
	s2.ClearStreaming()
}

func TestListReturnsCopies(t *testing.T) {
	s := testStore()
	s.AppendUser("original")

	list := s.List()
	list[0].Messages[0].Content = "mutated"
	list[0].Title = "mutated"

	active, _ := s.Active()
	if active.Messages[0].Content != "original" || active.Title != "original" {
		t.Error("List() should return copies, not shared state")
	}
}
