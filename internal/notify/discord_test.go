package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/JamieW105/Ro-link-sub000/internal/command"
)

func TestCommandSubmittedPostsEmbed(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	n := New(map[string]string{"G1": srv.URL}, nil)
	n.CommandSubmitted(context.Background(), "G1",
		command.Ban, command.Args{Username: "Alice", Reason: "alt account"}, "Mod#1")

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 webhook post, got %d", len(bodies))
	}
	body := bodies[0]
	for _, want := range []string{"BAN", "Alice", "alt account", "Mod#1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("embed missing %q: %s", want, body)
		}
	}
}

func TestCommandSubmittedUnconfiguredGuild(t *testing.T) {
	// Must not panic or post anywhere.
	n := New(map[string]string{}, nil)
	n.CommandSubmitted(context.Background(), "G9", command.Kick, command.Args{Username: "Bob"}, "m")
}
