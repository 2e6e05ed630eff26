package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectChats(t *testing.T) {
	chats := []tg.ChatClass{
		&tg.Chat{ID: 55, Title: "Friends"},
		&tg.Chat{ID: 56, Title: "Gone", Left: true},
		&tg.Channel{ID: 1234567890, Title: "Signals", Username: "signals", Broadcast: true},
		&tg.Channel{ID: 77, Title: "Chatty", Megagroup: true},
	}
	users := []tg.UserClass{
		&tg.User{ID: 7, FirstName: "Mario", LastName: "Rossi", Username: "mrossi"},
		&tg.User{ID: 8, FirstName: "Bot", Bot: true},
		&tg.User{ID: 9, Self: true},
	}

	out := collectChats(chats, users)
	require.Len(t, out, 5)

	byID := make(map[int64]ChatInfo, len(out))
	for _, c := range out {
		byID[c.ID] = c
	}

	assert.Equal(t, "group", byID[-55].Type)
	assert.Equal(t, "Friends", byID[-55].Title)

	channel := byID[-1001234567890]
	assert.Equal(t, "channel", channel.Type)
	assert.Equal(t, "signals", channel.Username)

	assert.Equal(t, "supergroup", byID[-(channelIDOffset+77)].Type)

	user := byID[7]
	assert.Equal(t, "user", user.Type)
	assert.Equal(t, "Mario Rossi", user.Title)

	assert.Equal(t, "bot", byID[8].Type)

	_, hasSelf := byID[9]
	assert.False(t, hasSelf, "the account itself is not a dialog target")
}
