package worker

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenChannelMessage(t *testing.T) {
	entities := tg.Entities{
		Channels: map[int64]*tg.Channel{
			1234567890: {ID: 1234567890, Title: "Signals", Username: "signals", Broadcast: true},
		},
		Users: map[int64]*tg.User{
			7: {ID: 7, FirstName: "Mario", LastName: "Rossi", Username: "mrossi"},
		},
	}
	msg := &tg.Message{
		ID:      100,
		Message: "hello",
		Date:    1720000000,
		PeerID:  &tg.PeerChannel{ChannelID: 1234567890},
		FromID:  &tg.PeerUser{UserID: 7},
	}

	out := flatten(entities, msg)
	require.NotNil(t, out)
	assert.Equal(t, int64(-1001234567890), out.ChatID)
	assert.Equal(t, "channel", out.ChatType)
	assert.Equal(t, "Signals", out.ChatTitle)
	assert.Equal(t, int64(100), out.MessageID)
	assert.Equal(t, "hello", out.Text)
	require.NotNil(t, out.SenderID)
	assert.Equal(t, int64(7), *out.SenderID)
	assert.Equal(t, "Mario Rossi", out.SenderName)
	assert.Equal(t, "mrossi", out.SenderUsername)
	assert.Equal(t, time.Unix(1720000000, 0), out.Date)
	assert.Equal(t, "text", out.MessageType)
}

func TestFlattenBasicGroupMessage(t *testing.T) {
	entities := tg.Entities{
		Chats: map[int64]*tg.Chat{55: {ID: 55, Title: "Friends"}},
	}
	msg := &tg.Message{
		ID:     3,
		PeerID: &tg.PeerChat{ChatID: 55},
	}

	out := flatten(entities, msg)
	require.NotNil(t, out)
	assert.Equal(t, int64(-55), out.ChatID)
	assert.Equal(t, "group", out.ChatType)
	assert.Equal(t, "Friends", out.ChatTitle)
}

func TestFlattenDirectMessageSenderFallback(t *testing.T) {
	entities := tg.Entities{
		Users: map[int64]*tg.User{9: {ID: 9, FirstName: "Anna"}},
	}
	msg := &tg.Message{
		ID:     4,
		PeerID: &tg.PeerUser{UserID: 9},
	}

	out := flatten(entities, msg)
	require.NotNil(t, out)
	assert.Equal(t, int64(9), out.ChatID)
	assert.Equal(t, "user", out.ChatType)
	require.NotNil(t, out.SenderID)
	assert.Equal(t, int64(9), *out.SenderID)
	assert.Equal(t, "Anna", out.SenderName)
}

func TestClassifyMedia(t *testing.T) {
	assert.Equal(t, "text", classifyMedia(nil))
	assert.Equal(t, "photo", classifyMedia(&tg.MessageMediaPhoto{}))
	assert.Equal(t, "document", classifyMedia(&tg.MessageMediaDocument{}))
	assert.Equal(t, "location", classifyMedia(&tg.MessageMediaGeo{}))
	assert.Equal(t, "other", classifyMedia(&tg.MessageMediaDice{}))
}

func TestSupergroupType(t *testing.T) {
	entities := tg.Entities{
		Channels: map[int64]*tg.Channel{77: {ID: 77, Title: "Chatty", Broadcast: false, Megagroup: true}},
	}
	msg := &tg.Message{ID: 5, PeerID: &tg.PeerChannel{ChannelID: 77}}

	out := flatten(entities, msg)
	require.NotNil(t, out)
	assert.Equal(t, "supergroup", out.ChatType)
}
