// Package command defines the moderation command vocabulary shared by the
// queue, the HTTP surface, and the instant-push path.
package command

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one moderation action a game server knows how to apply.
type Kind string

const (
	Kick         Kind = "kick"
	Ban          Kind = "ban"
	Unban        Kind = "unban"
	Update       Kind = "update"
	Shutdown     Kind = "shutdown"
	Fly          Kind = "fly"
	Noclip       Kind = "noclip"
	Invisible    Kind = "invisible"
	Ghost        Kind = "ghost"
	SetCharacter Kind = "setcharacter"
	Heal         Kind = "heal"
	Kill         Kind = "kill"
	Reset        Kind = "reset"
	Refresh      Kind = "refresh"
)

func (k Kind) String() string { return string(k) }

// Kinds returns every known command kind.
func Kinds() []Kind {
	return []Kind{
		Kick, Ban, Unban, Update, Shutdown,
		Fly, Noclip, Invisible, Ghost,
		SetCharacter, Heal, Kill, Reset, Refresh,
	}
}

// ParseKind resolves user input to a Kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// PerPlayer reports whether the kind targets a single player. Update and
// shutdown act on a whole server.
func (k Kind) PerPlayer() bool {
	return k != Update && k != Shutdown
}

// Args carries the parameters of a command. Field names on the wire match
// what the game-side script expects.
type Args struct {
	Username  string `json:"username,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Character string `json:"character,omitempty"`
	JobID     string `json:"jobId,omitempty"`
}

var (
	ErrUsernameRequired  = errors.New("username required for per-player command")
	ErrCharacterRequired = errors.New("character id required for setcharacter")
)

// Validate checks that args satisfy the kind's requirements.
func Validate(k Kind, a Args) error {
	if k.PerPlayer() && a.Username == "" {
		return ErrUsernameRequired
	}
	if k == SetCharacter && a.Character == "" {
		return ErrCharacterRequired
	}
	return nil
}

// Payload is the wire form of a command handed to a game server, identical on
// the poll response and the push envelope.
type Payload struct {
	Command string `json:"command"`
	Args    Args   `json:"args"`
}
