package command

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"kick", Kick, true},
		{"KICK", Kick, true},
		{" Ban ", Ban, true},
		{"setcharacter", SetCharacter, true},
		{"shutdown", Shutdown, true},
		{"explode", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := ParseKind(c.in)
		if c.ok && err != nil {
			t.Fatalf("ParseKind(%q): unexpected error %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("ParseKind(%q): expected error", c.in)
		}
		if got != c.want {
			t.Fatalf("ParseKind(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseKindCoversAllKinds(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", k, err)
		}
		if got != k {
			t.Fatalf("round trip %q -> %q", k, got)
		}
	}
}

func TestPerPlayer(t *testing.T) {
	if Update.PerPlayer() || Shutdown.PerPlayer() {
		t.Fatalf("update/shutdown must not require a target player")
	}
	for _, k := range []Kind{Kick, Ban, Unban, Fly, Heal, Refresh} {
		if !k.PerPlayer() {
			t.Fatalf("%s should be per-player", k)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(Kick, Args{}); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("kick without username: got %v", err)
	}
	if err := Validate(Kick, Args{Username: "Alice"}); err != nil {
		t.Fatalf("kick with username: %v", err)
	}
	if err := Validate(Update, Args{}); err != nil {
		t.Fatalf("update needs no args: %v", err)
	}
	if err := Validate(Shutdown, Args{JobID: "J1"}); err != nil {
		t.Fatalf("targeted shutdown: %v", err)
	}
	if err := Validate(SetCharacter, Args{Username: "Alice"}); !errors.Is(err, ErrCharacterRequired) {
		t.Fatalf("setcharacter without character id: got %v", err)
	}
	if err := Validate(SetCharacter, Args{Username: "Alice", Character: "12345"}); err != nil {
		t.Fatalf("setcharacter with character id: %v", err)
	}
}
