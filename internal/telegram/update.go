package telegram

import (
	"strconv"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

// Update is the part of a Bot API update the relay reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from"`
	Chat      Chat     `json:"chat"`
	Text      string   `json:"text"`
	Contact   *Contact `json:"contact"`
}

type User struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type Contact struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name"`
	UserID      int64  `json:"user_id"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Normalize turns an update into an inbound event. Updates without a
// private-chat text, shared contact or button press are ignored.
func Normalize(u Update) (relay.InboundEvent, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.From != nil && m.From.IsBot {
			return relay.InboundEvent{}, false
		}
		if m.Chat.Type != "" && m.Chat.Type != "private" {
			return relay.InboundEvent{}, false
		}
		text := m.Text
		if m.Contact != nil {
			text = m.Contact.PhoneNumber
		}
		if text == "" {
			return relay.InboundEvent{}, false
		}
		return relay.InboundEvent{
			ChatID:    strconv.FormatInt(m.Chat.ID, 10),
			MessageID: strconv.FormatInt(m.MessageID, 10),
			Text:      text,
			Profile:   profile(m.From),
		}, true

	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Data == "" {
			return relay.InboundEvent{}, false
		}
		chatID := q.From.ID
		var msgID string
		if q.Message != nil {
			chatID = q.Message.Chat.ID
			msgID = strconv.FormatInt(q.Message.MessageID, 10)
		}
		return relay.InboundEvent{
			ChatID:    strconv.FormatInt(chatID, 10),
			MessageID: msgID,
			Text:      q.Data,
			Button:    true,
			Profile:   profile(&q.From),
		}, true
	}
	return relay.InboundEvent{}, false
}

func profile(u *User) relay.UserProfile {
	if u == nil {
		return relay.UserProfile{}
	}
	return relay.UserProfile{
		UserID:       strconv.FormatInt(u.ID, 10),
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
	}
}
