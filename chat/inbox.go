package chat

import (
	"context"
	"sort"

	"github.com/winfeed/winchat/api"
)

// LoadInbox returns the conversation-list summary for the current user,
// most recent activity first. Unread conversations sort before read
// ones with the same timestamp.
func LoadInbox(ctx context.Context, client *api.Client) ([]api.InboxEntry, error) {
	entries, err := client.Inbox(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastTimestamp.Equal(entries[j].LastTimestamp) {
			return entries[i].HasUnread && !entries[j].HasUnread
		}
		return entries[i].LastTimestamp.After(entries[j].LastTimestamp)
	})
	return entries, nil
}

// UnreadConversations counts entries with unread messages.
func UnreadConversations(entries []api.InboxEntry) int {
	var n int
	for _, e := range entries {
		if e.HasUnread {
			n++
		}
	}
	return n
}
