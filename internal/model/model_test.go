package model

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewIDUniqueUnderConcurrency(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 250

	var mu sync.Mutex
	seen := make(map[string]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				ids = append(ids, NewID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id across goroutines: %s", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Errorf("got %d unique ids, want %d", len(seen), goroutines*perGoroutine)
	}
}

func TestStatusConstants(t *testing.T) {
	statuses := []struct {
		constant string
		expected string
	}{
		{StatusQueued, "queued"},
		{StatusProcessing, "processing"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
	}
	for _, s := range statuses {
		if s.constant != s.expected {
			t.Errorf("status constant = %q, want %q", s.constant, s.expected)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusCompleted, false},
		{"bogus", StatusProcessing, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	if Terminal(StatusQueued) || Terminal(StatusProcessing) {
		t.Error("queued/processing reported as terminal")
	}
	if !Terminal(StatusCompleted) || !Terminal(StatusFailed) {
		t.Error("completed/failed not reported as terminal")
	}
}

func TestTaskClone(t *testing.T) {
	started := time.Now().UTC()
	orig := &Task{
		ID:        NewID(),
		Status:    StatusProcessing,
		Progress:  42,
		CreatedAt: started.Add(-time.Second),
		StartedAt: &started,
		Params:    map[string]any{"prompt": "a lighthouse at dusk"},
	}

	c := orig.Clone()

	c.Params["prompt"] = "mutated"
	*c.StartedAt = c.StartedAt.Add(time.Hour)

	if orig.Params["prompt"] != "a lighthouse at dusk" {
		t.Error("Clone shares the params map with the original")
	}
	if !orig.StartedAt.Equal(started) {
		t.Error("Clone shares the started_at pointer with the original")
	}
}
