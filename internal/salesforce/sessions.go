package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

const (
	objConversation = "Conversation_Thread__c"
	objSession      = "Chat_Session__c"
	objMessage      = "Chat_Message__c"

	channelTelegram = "Telegram"
)

type idRow struct {
	ID string `json:"Id"`
}

type conversationRow struct {
	ID        string `json:"Id"`
	ContactID string `json:"Contact__c"`
}

type sessionRow struct {
	ID             string `json:"Id"`
	ConversationID string `json:"Conversation_Thread__c"`
	Status         string `json:"Status__c"`
	CreatedDate    sfTime `json:"CreatedDate"`
}

func (r sessionRow) session() relay.Session {
	return relay.Session{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Status:         relay.SessionStatus(r.Status),
		CreatedAt:      r.CreatedDate.Time,
	}
}

func (c *Client) FindActiveConversation(ctx context.Context, recordID string) (*relay.Conversation, error) {
	row, err := queryOne[conversationRow](ctx, c, fmt.Sprintf(
		"SELECT Id, Contact__c FROM %s WHERE Contact__c = %s AND Channel_Type__c = %s AND Status__c != 'Closed' ORDER BY CreatedDate DESC LIMIT 1",
		objConversation, quote(recordID), quote(channelTelegram),
	))
	if err != nil || row == nil {
		return nil, err
	}
	return &relay.Conversation{ID: row.ID, RecordID: row.ContactID}, nil
}

func (c *Client) CreateConversation(ctx context.Context, recordID string) (string, error) {
	return c.create(ctx, objConversation, map[string]any{
		"Contact__c":      recordID,
		"Channel_Type__c": channelTelegram,
		"Status__c":       "Open",
	})
}

// FindSessions lists sessions oldest first.
func (c *Client) FindSessions(ctx context.Context, conversationID string, statuses []relay.SessionStatus) ([]relay.Session, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Conversation_Thread__c, Status__c, CreatedDate FROM %s WHERE Conversation_Thread__c = %s",
		objSession, quote(conversationID),
	)
	if len(statuses) > 0 {
		quoted := make([]string, len(statuses))
		for i, s := range statuses {
			quoted[i] = quote(string(s))
		}
		soql += " AND Status__c IN (" + strings.Join(quoted, ", ") + ")"
	}
	soql += " ORDER BY CreatedDate ASC, Id ASC"

	rows, err := query[sessionRow](ctx, c, soql)
	if err != nil {
		return nil, err
	}
	out := make([]relay.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.session())
	}
	return out, nil
}

// CreateSession files a waiting session in the intake queue. Routing may
// reassign or replace the record, so its id is not returned.
func (c *Client) CreateSession(ctx context.Context, conversationID string, in relay.SessionInitiator) error {
	fields := map[string]any{
		"Conversation_Thread__c": conversationID,
		"Status__c":              string(relay.SessionWaiting),
		"Contact__c":             in.RecordID,
		fieldChatID:              in.ChatID,
		"Customer_Name__c":       in.DisplayName,
	}
	if in.Username != "" {
		fields[fieldUsername] = in.Username
	}
	queueID, err := c.intakeQueueID(ctx)
	if err != nil {
		return err
	}
	if queueID != "" {
		fields["OwnerId"] = queueID
	}
	_, err = c.create(ctx, objSession, fields)
	return err
}

// FindGlobalQueueRank ranks a waiting session among every waiting session in
// the intake queue.
func (c *Client) FindGlobalQueueRank(ctx context.Context, sessionID string) (int, bool, error) {
	queueID, err := c.intakeQueueID(ctx)
	if err != nil {
		return 0, false, err
	}
	soql := fmt.Sprintf(
		"SELECT Id, Conversation_Thread__c, Status__c, CreatedDate FROM %s WHERE Status__c = %s",
		objSession, quote(string(relay.SessionWaiting)),
	)
	if queueID != "" {
		soql += " AND OwnerId = " + quote(queueID)
	}
	soql += " ORDER BY CreatedDate ASC, Id ASC"

	rows, err := query[sessionRow](ctx, c, soql)
	if err != nil {
		return 0, false, err
	}
	waiting := make([]relay.Session, 0, len(rows))
	for _, r := range rows {
		waiting = append(waiting, r.session())
	}
	pos, ok := relay.RankInQueue(waiting, sessionID)
	return pos, ok, nil
}

func (c *Client) PostSessionMessage(ctx context.Context, msg relay.SessionMessage) error {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	_, err := c.create(ctx, objMessage, map[string]any{
		"Chat_Session__c":        msg.SessionID,
		"Conversation_Thread__c": msg.ConversationID,
		"External_ID__c":         msg.ID,
		"Body__c":                msg.Text,
		"Sender_Name__c":         msg.SenderName,
		"Direction__c":           "Inbound",
		fieldChatID:              msg.ChatID,
		"Sent_At__c":             sentAt.UTC().Format(time.RFC3339),
	})
	return err
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.update(ctx, objSession, sessionID, map[string]any{
		"Status__c": string(relay.SessionClosed),
	})
}

// intakeQueueID resolves the configured queue once. Failures are not cached.
func (c *Client) intakeQueueID(ctx context.Context) (string, error) {
	if c.cfg.IntakeQueue == "" {
		return "", nil
	}
	c.mu.Lock()
	id := c.queueID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	row, err := queryOne[idRow](ctx, c, "SELECT Id FROM Group WHERE Type = 'Queue' AND DeveloperName = "+quote(c.cfg.IntakeQueue)+" LIMIT 1")
	if err != nil {
		return "", fmt.Errorf("resolve intake queue: %w", err)
	}
	if row == nil {
		return "", fmt.Errorf("intake queue %q not found", c.cfg.IntakeQueue)
	}

	c.mu.Lock()
	c.queueID = row.ID
	c.mu.Unlock()
	return row.ID, nil
}

var _ relay.CRM = (*Client)(nil)
