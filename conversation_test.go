package concierge

import "testing"

func TestConversationAppendAndWindow(t *testing.T) {
	c := NewConversation()
	if c.Len() != 0 {
		t.Fatalf("new conversation Len = %d", c.Len())
	}

	c.Append("first question", "first answer")
	c.Append("second question", "second answer")
	c.Append("third question", "third answer")

	window := c.Window(2)
	if len(window) != 4 {
		t.Fatalf("window len = %d, want 4 messages", len(window))
	}
	// Oldest first within the window.
	if window[0].Content != "second question" || window[0].Role != "user" {
		t.Errorf("window[0] = %+v", window[0])
	}
	if window[3].Content != "third answer" || window[3].Role != "assistant" {
		t.Errorf("window[3] = %+v", window[3])
	}
}

func TestConversationWindowBounds(t *testing.T) {
	c := NewConversation()
	c.Append("q", "a")

	if got := c.Window(0); got != nil {
		t.Errorf("Window(0) = %v, want nil", got)
	}
	if got := c.Window(-1); got != nil {
		t.Errorf("Window(-1) = %v, want nil", got)
	}
	if got := c.Window(10); len(got) != 2 {
		t.Errorf("oversized window len = %d, want 2", len(got))
	}
}

func TestConversationReset(t *testing.T) {
	c := NewConversation()
	oldID := c.ID()
	if oldID == "" {
		t.Fatal("empty session id")
	}
	c.Append("q", "a")

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after reset = %d", c.Len())
	}
	if c.ID() == oldID {
		t.Error("reset must assign a fresh session id")
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
