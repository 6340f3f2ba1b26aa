package relay

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

type service struct {
	router     *Router
	crm        CRM
	chat       Chat
	transcript Transcript
	log        *logging.Logger
}

func NewService(router *Router, crm CRM, chat Chat, transcript Transcript, log *logging.Logger) Service {
	return &service{
		router:     router,
		crm:        crm,
		chat:       chat,
		transcript: transcript,
		log:        log.Sub("service"),
	}
}

// HandleIncoming routes an inbound event and runs the resulting actions.
// Delivery failures are logged and counted, never returned.
func (s *service) HandleIncoming(ctx context.Context, evt InboundEvent) error {
	if evt.ChatID == "" {
		return fmt.Errorf("relay: inbound event without chat id")
	}
	log := s.log.WithChat(evt.ChatID)
	log.Info().
		Bool("button", evt.Button).
		Str("text", short(evt.Text)).
		Msg("inbound message")

	s.record(ctx, evt.ChatID, Inbound, evt.Text)

	d := s.router.Route(ctx, evt)
	failed := s.dispatch(ctx, d)

	log.Info().
		Str("outcome", string(d.Outcome)).
		Int("actions", len(d.Actions)).
		Int("failed", failed).
		Msg("inbound handled")
	return nil
}

func (s *service) dispatch(ctx context.Context, d Decision) int {
	failed := 0
	for _, a := range d.Actions {
		switch a.Kind {
		case ActionTyping:
			if err := s.chat.SendTyping(ctx, d.ChatID); err != nil {
				s.log.Debug().Err(err).Str("chatId", d.ChatID).Msg("typing indicator failed")
			}
		case ActionSendText:
			if err := s.chat.SendText(ctx, d.ChatID, a.Text); err != nil {
				failed++
				metrics().deliveryFailures.Inc()
				s.log.Error().Err(err).Str("chatId", d.ChatID).Msg("delivery failed")
				continue
			}
			s.record(ctx, d.ChatID, Outbound, a.Text)
		}
	}
	return failed
}

// SendToUser relays a CRM-originated message to a chat.
func (s *service) SendToUser(ctx context.Context, chatID string, msg Outgoing) error {
	if err := s.deliver(ctx, chatID, msg); err != nil {
		return err
	}
	text := msg.Text
	if msg.AttachmentURL != "" {
		text = strings.TrimSpace(text + "\n" + msg.AttachmentURL)
	}
	s.record(ctx, chatID, Outbound, text)
	return nil
}

// SendToGroup posts to a group chat. Group posts are not transcribed.
func (s *service) SendToGroup(ctx context.Context, groupID string, msg Outgoing) error {
	if err := s.deliver(ctx, groupID, msg); err != nil {
		return err
	}
	s.log.Info().Str("groupId", groupID).Bool("attachment", msg.AttachmentURL != "").Msg("group message sent")
	return nil
}

func (s *service) deliver(ctx context.Context, chatID string, msg Outgoing) error {
	var err error
	if msg.AttachmentURL != "" {
		err = s.chat.SendPhoto(ctx, chatID, msg.AttachmentURL, msg.Text)
	} else {
		err = s.chat.SendText(ctx, chatID, msg.Text)
	}
	if err != nil {
		metrics().deliveryFailures.Inc()
		return fmt.Errorf("send to %s: %w", chatID, err)
	}
	return nil
}

// Broadcast sends msg to every record linked to a chat.
func (s *service) Broadcast(ctx context.Context, msg Outgoing) (BroadcastResult, error) {
	recs, err := s.crm.ListLinkedRecords(ctx)
	if err != nil {
		crmFailure("list_linked_records")
		return BroadcastResult{}, fmt.Errorf("list linked records: %w", err)
	}

	res := BroadcastResult{Results: make([]BroadcastEntry, 0, len(recs))}
	for _, rec := range recs {
		if rec.ChatID == "" {
			continue
		}
		err := s.SendToUser(ctx, rec.ChatID, msg)
		if err != nil {
			s.log.Warn().Err(err).Str("recordId", rec.ID).Msg("broadcast delivery failed")
		}
		res.Results = append(res.Results, BroadcastEntry{
			RecordID:   rec.ID,
			RecordName: rec.Name,
			ChatID:     rec.ChatID,
			Success:    err == nil,
		})
	}

	res.Total = len(res.Results)
	for _, r := range res.Results {
		if r.Success {
			res.Succeeded++
		}
	}
	res.Failed = res.Total - res.Succeeded
	s.log.Info().Int("total", res.Total).Int("succeeded", res.Succeeded).Msg("broadcast finished")
	return res, nil
}

func (s *service) History(ctx context.Context, chatID string, limit int) ([]TranscriptEntry, error) {
	return s.transcript.History(ctx, chatID, limit)
}

func (s *service) record(ctx context.Context, chatID string, dir Direction, text string) {
	err := s.transcript.Save(ctx, &TranscriptEntry{
		ChatID:    chatID,
		Direction: dir,
		Text:      text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("chatId", chatID).Msg("transcript save failed")
	}
}

// short trims s to 180 bytes for logging without splitting a rune.
func short(s string) string {
	const limit = 180
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
