// Package identity keeps the friend, group and member caches of each bot
// account and the process-wide id alias table.
package identity

import "strings"

// GuildPrefix marks ids that belong to guild (channel) users and groups.
const GuildPrefix = "qg_"

// Composite qualifies a platform id with the owning bot account.
func Composite(accountID, id string) string {
	if id == "" {
		return ""
	}
	return accountID + ":" + id
}

// StripAccount removes the "<account>:" qualifier if present.
func StripAccount(accountID, id string) string {
	return strings.TrimPrefix(id, accountID+":")
}

// GuildUser is the id of a guild user.
func GuildUser(id string) string { return GuildPrefix + id }

// GuildGroup is the group id of a guild channel.
func GuildGroup(guildID, channelID string) string {
	return GuildPrefix + guildID + "-" + channelID
}

// SplitGuildGroup reverses GuildGroup.
func SplitGuildGroup(groupID string) (guildID, channelID string, ok bool) {
	rest, found := strings.CutPrefix(groupID, GuildPrefix)
	if !found {
		return "", "", false
	}
	guildID, channelID, ok = strings.Cut(rest, "-")
	return guildID, channelID, ok
}

// IsGuild reports whether id uses the guild prefix.
func IsGuild(id string) bool { return strings.HasPrefix(id, GuildPrefix) }
