package relay

import (
	"context"
	"strings"
	"time"
)

// UserProfile is the sender as reported by the chat platform.
type UserProfile struct {
	UserID       string
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
}

// DisplayName joins first and last name, falling back to the username.
func (p UserProfile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Username
	}
	return name
}

// InboundEvent is a chat message or button press normalized at the webhook
// boundary. Text carries the callback token when Button is set.
type InboundEvent struct {
	ChatID    string
	MessageID string
	Text      string
	Button    bool
	Profile   UserProfile
}

type IdentityState string

const (
	Unregistered    IdentityState = "unregistered"
	MidRegistration IdentityState = "mid_registration"
	Registered      IdentityState = "registered"
)

// ResolvedIdentity is the outcome of resolving a chat id against the CRM.
type ResolvedIdentity struct {
	State        IdentityState
	RecordID     string
	RecordName   string
	Registration *RegistrationState
}

type RegistrationStep string

const (
	StepAwaitingGender RegistrationStep = "awaiting_gender"
	StepAwaitingName   RegistrationStep = "awaiting_name"
)

// RegistrationState is kept per chat until a record is created or linked.
// No stored state means the chat is still awaiting an identifier.
type RegistrationState struct {
	Step      RegistrationStep `json:"step"`
	Phone     string           `json:"phone"`
	Gender    string           `json:"gender,omitempty"`
	FirstName string           `json:"firstName,omitempty"`
	StartedAt time.Time        `json:"startedAt"`
}

type SessionStatus string

const (
	SessionWaiting SessionStatus = "Waiting"
	SessionActive  SessionStatus = "Active"
	SessionClosed  SessionStatus = "Closed"
)

// Session is one support request under a conversation.
type Session struct {
	ID             string
	ConversationID string
	Status         SessionStatus
	CreatedAt      time.Time
}

type Conversation struct {
	ID       string
	RecordID string
}

// Record is a CRM contact.
type Record struct {
	ID         string
	Name       string
	FirstName  string
	LastName   string
	Salutation string
	Phone      string
	Email      string
	ChatID     string
}

// RecordFields are written on create or update. Empty values are not sent.
type RecordFields struct {
	FirstName  string
	LastName   string
	Salutation string
	Phone      string
	ChatID     string
	Username   string
}

type SessionInitiator struct {
	ChatID      string
	RecordID    string
	DisplayName string
	Username    string
}

// SessionMessage is a user message forwarded into a support session.
type SessionMessage struct {
	ID             string
	ChatID         string
	ConversationID string
	SessionID      string
	SenderName     string
	Text           string
	SentAt         time.Time
}

type PendingConfirm string

const (
	ConfirmNone    PendingConfirm = ""
	ConfirmRestart PendingConfirm = "restart"
	ConfirmEnd     PendingConfirm = "end"
)

// CacheEntry is the last known session state for a chat.
type CacheEntry struct {
	InSession      bool           `json:"inSession"`
	ConversationID string         `json:"conversationId,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	Status         SessionStatus  `json:"status,omitempty"`
	Pending        PendingConfirm `json:"pending,omitempty"`
}

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

type TranscriptEntry struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat sends to the messaging platform.
type Chat interface {
	SendText(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, photoURL, caption string) error
	SendTyping(ctx context.Context, chatID string) error
}

// Outgoing is a CRM-originated message. With AttachmentURL set the text
// becomes the photo's caption.
type Outgoing struct {
	Text          string
	AttachmentURL string
}

// CRM is the backing record system. Lookups return (nil, nil) when nothing
// matches; errors mean the CRM could not be reached or refused the call.
type CRM interface {
	FindRecordByChatID(ctx context.Context, chatID string) (*Record, error)
	FindRecordByPhone(ctx context.Context, phone string) (*Record, error)
	FindRecordByEmail(ctx context.Context, email string) (*Record, error)
	CreateRecord(ctx context.Context, fields RecordFields) (string, error)
	UpdateRecord(ctx context.Context, recordID string, fields RecordFields) error
	ListLinkedRecords(ctx context.Context) ([]Record, error)

	FindActiveConversation(ctx context.Context, recordID string) (*Conversation, error)
	CreateConversation(ctx context.Context, recordID string) (string, error)
	// FindSessions returns sessions ordered by creation time, oldest first.
	FindSessions(ctx context.Context, conversationID string, statuses []SessionStatus) ([]Session, error)
	// CreateSession does not report the new id; poll FindSessions for it.
	CreateSession(ctx context.Context, conversationID string, initiator SessionInitiator) error
	FindGlobalQueueRank(ctx context.Context, sessionID string) (int, bool, error)
	PostSessionMessage(ctx context.Context, msg SessionMessage) error
	CloseSession(ctx context.Context, sessionID string) error
}

// Store keeps per-chat working state. Get methods return nil when absent.
type Store interface {
	GetRegistration(ctx context.Context, chatID string) (*RegistrationState, error)
	PutRegistration(ctx context.Context, chatID string, st RegistrationState) error
	DeleteRegistration(ctx context.Context, chatID string) error

	GetSession(ctx context.Context, chatID string) (*CacheEntry, error)
	PutSession(ctx context.Context, chatID string, entry CacheEntry) error
	DeleteSession(ctx context.Context, chatID string) error

	// Lock serializes routing for one chat id.
	Lock(ctx context.Context, chatID string) (unlock func(), err error)
}

// Transcript persists the message history per chat.
type Transcript interface {
	Save(ctx context.Context, entry *TranscriptEntry) error
	History(ctx context.Context, chatID string, limit int) ([]TranscriptEntry, error)
}

// BroadcastResult summarizes a send to every linked record.
type BroadcastResult struct {
	Total     int              `json:"total_contacts"`
	Succeeded int              `json:"successful_sends"`
	Failed    int              `json:"failed_sends"`
	Results   []BroadcastEntry `json:"results"`
}

type BroadcastEntry struct {
	RecordID   string `json:"contact_id"`
	RecordName string `json:"contact_name"`
	ChatID     string `json:"chat_id"`
	Success    bool   `json:"success"`
}

// Service is what the HTTP layer talks to.
type Service interface {
	HandleIncoming(ctx context.Context, evt InboundEvent) error
	SendToUser(ctx context.Context, chatID string, msg Outgoing) error
	SendToGroup(ctx context.Context, groupID string, msg Outgoing) error
	Broadcast(ctx context.Context, msg Outgoing) (BroadcastResult, error)
	History(ctx context.Context, chatID string, limit int) ([]TranscriptEntry, error)
}
