package main

import (
	"context"
	"fmt"

	rolink "github.com/JamieW105/Ro-link-sub000"
)

// This example embeds the bridge in-process instead of running the daemon:
// it queues a kick, then simulates one game-server poll that drains it.
func main() {
	fc := rolink.Config{
		Store:         "rolink.db",
		APIKey:        "example-admin-key",
		SweepSchedule: "@every 60s",
		Guilds: []rolink.GuildConfig{
			{GuildID: "123456789012345678", PollKey: "example-poll-key"},
		},
	}

	ctx := context.Background()
	bridge, err := rolink.New(ctx, fc, nil)
	if err != nil {
		panic(err)
	}
	defer func() { _ = bridge.Close() }()

	id, err := bridge.Submit(ctx, "123456789012345678", rolink.KindKick,
		rolink.Args{Username: "SomePlayer", Reason: "example"}, "Moderator#0001")
	if err != nil {
		panic(err)
	}
	fmt.Println("queued command", id)

	cmds, err := bridge.HandlePoll(ctx, "123456789012345678", "example-job-id", []string{"SomePlayer"})
	if err != nil {
		panic(err)
	}
	for _, c := range cmds {
		fmt.Printf("delivered: %s -> %s\n", c.Command, c.Args.Username)
	}
}
