package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
)

// ChatInfo describes one dialog of the account, with the chat id in the
// conventional signed form (-100… for channels and supergroups, negative
// for basic groups, positive for users and bots).
type ChatInfo struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username,omitempty"`
	Type     string `json:"type"` // user, bot, group, supergroup, channel
}

const channelIDOffset int64 = 1_000_000_000_000

// GetChats returns the dialogs of the account: groups, channels, users and
// bots.
func (c *Client) GetChats(ctx context.Context) ([]ChatInfo, error) {
	api := c.API()
	if api == nil {
		return nil, fmt.Errorf("client not connected")
	}

	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      100,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, err
	}

	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		return collectChats(d.Chats, d.Users), nil
	case *tg.MessagesDialogsSlice:
		return collectChats(d.Chats, d.Users), nil
	default:
		return nil, fmt.Errorf("unexpected dialogs type: %T", dialogs)
	}
}

func collectChats(chats []tg.ChatClass, users []tg.UserClass) []ChatInfo {
	var out []ChatInfo

	for _, chat := range chats {
		switch c := chat.(type) {
		case *tg.Chat:
			if c.Deactivated || c.Left {
				continue
			}
			out = append(out, ChatInfo{
				ID:    -c.ID,
				Title: c.Title,
				Type:  "group",
			})
		case *tg.Channel:
			if c.Left {
				continue
			}
			info := ChatInfo{
				ID:       -(channelIDOffset + c.ID),
				Title:    c.Title,
				Username: c.Username,
			}
			if c.Broadcast {
				info.Type = "channel"
			} else {
				info.Type = "supergroup"
			}
			out = append(out, info)
		}
	}

	for _, user := range users {
		u, ok := user.(*tg.User)
		if !ok || u.Self || u.Deleted {
			continue
		}
		info := ChatInfo{
			ID:       u.ID,
			Title:    displayName(u),
			Username: u.Username,
			Type:     "user",
		}
		if u.Bot {
			info.Type = "bot"
		}
		out = append(out, info)
	}

	return out
}

// displayName returns a human-readable name for a user.
func displayName(user *tg.User) string {
	if user.FirstName != "" {
		if user.LastName != "" {
			return user.FirstName + " " + user.LastName
		}
		return user.FirstName
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return fmt.Sprintf("User %d", user.ID)
}
