package store

import "strings"

// FilterByPlayer narrows a server list to those whose player list contains
// username (case-insensitive, Roblox usernames are case-preserving but
// unique without case).
func FilterByPlayer(servers []Server, username string) []Server {
	out := make([]Server, 0, len(servers))
	for _, sv := range servers {
		for _, p := range sv.Players {
			if strings.EqualFold(p, username) {
				out = append(out, sv)
				break
			}
		}
	}
	return out
}
