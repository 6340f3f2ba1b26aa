package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

var errCRMDown = errors.New("crm: connection refused")

// fakeCRM keeps records, conversations and sessions in memory. Operations
// listed in fail return errCRMDown.
type fakeCRM struct {
	mu sync.Mutex

	records       map[string]*Record
	conversations map[string]Conversation
	sessions      []Session
	messages      []SessionMessage
	created       []RecordFields
	updated       map[string]RecordFields
	closed        []string
	calls         map[string]int

	fail map[string]bool
	// skipCreate makes CreateSession succeed without a session appearing.
	skipCreate bool
	seq        int
	clock      time.Time
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		records:       map[string]*Record{},
		conversations: map[string]Conversation{},
		updated:       map[string]RecordFields{},
		calls:         map[string]int{},
		fail:          map[string]bool{},
		clock:         time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeCRM) hit(op string) error {
	f.calls[op]++
	if f.fail[op] {
		return fmt.Errorf("%s: %w", op, errCRMDown)
	}
	return nil
}

func (f *fakeCRM) id(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%03d", prefix, f.seq)
}

func (f *fakeCRM) addRecord(rec Record) *Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == "" {
		rec.ID = f.id("003")
	}
	f.records[rec.ID] = &rec
	return &rec
}

func (f *fakeCRM) addSession(convID string, status SessionStatus) Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Minute)
	s := Session{ID: f.id("a0S"), ConversationID: convID, Status: status, CreatedAt: f.clock}
	f.sessions = append(f.sessions, s)
	return s
}

func (f *fakeCRM) FindRecordByChatID(_ context.Context, chatID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_record_by_chat_id"); err != nil {
		return nil, err
	}
	for _, r := range f.records {
		if r.ChatID == chatID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCRM) FindRecordByPhone(_ context.Context, phone string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_record_by_phone"); err != nil {
		return nil, err
	}
	for _, r := range f.records {
		if r.Phone == phone {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCRM) FindRecordByEmail(_ context.Context, email string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_record_by_email"); err != nil {
		return nil, err
	}
	for _, r := range f.records {
		if strings.EqualFold(r.Email, email) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCRM) CreateRecord(_ context.Context, fields RecordFields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("create_record"); err != nil {
		return "", err
	}
	f.created = append(f.created, fields)
	id := f.id("003")
	f.records[id] = &Record{
		ID:         id,
		Name:       fields.FirstName + " " + fields.LastName,
		FirstName:  fields.FirstName,
		LastName:   fields.LastName,
		Salutation: fields.Salutation,
		Phone:      fields.Phone,
		ChatID:     fields.ChatID,
	}
	return id, nil
}

func (f *fakeCRM) UpdateRecord(_ context.Context, recordID string, fields RecordFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("update_record"); err != nil {
		return err
	}
	rec, ok := f.records[recordID]
	if !ok {
		return fmt.Errorf("record %s not found", recordID)
	}
	if fields.ChatID != "" {
		rec.ChatID = fields.ChatID
	}
	f.updated[recordID] = fields
	return nil
}

func (f *fakeCRM) ListLinkedRecords(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("list_linked_records"); err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range f.records {
		if r.ChatID != "" {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeCRM) FindActiveConversation(_ context.Context, recordID string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_active_conversation"); err != nil {
		return nil, err
	}
	c, ok := f.conversations[recordID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeCRM) CreateConversation(_ context.Context, recordID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("create_conversation"); err != nil {
		return "", err
	}
	c := Conversation{ID: f.id("a0C"), RecordID: recordID}
	f.conversations[recordID] = c
	return c.ID, nil
}

func (f *fakeCRM) FindSessions(_ context.Context, conversationID string, statuses []SessionStatus) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_sessions"); err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range f.sessions {
		if s.ConversationID != conversationID {
			continue
		}
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeCRM) CreateSession(_ context.Context, conversationID string, _ SessionInitiator) error {
	f.mu.Lock()
	if err := f.hit("create_session"); err != nil {
		f.mu.Unlock()
		return err
	}
	skip := f.skipCreate
	f.mu.Unlock()
	if !skip {
		f.addSession(conversationID, SessionWaiting)
	}
	return nil
}

func (f *fakeCRM) FindGlobalQueueRank(_ context.Context, sessionID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_global_queue_rank"); err != nil {
		return 0, false, err
	}
	var waiting []Session
	for _, s := range f.sessions {
		if s.Status == SessionWaiting {
			waiting = append(waiting, s)
		}
	}
	pos, ok := RankInQueue(waiting, sessionID)
	return pos, ok, nil
}

func (f *fakeCRM) PostSessionMessage(_ context.Context, msg SessionMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("post_session_message"); err != nil {
		return err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeCRM) CloseSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("close_session"); err != nil {
		return err
	}
	for i := range f.sessions {
		if f.sessions[i].ID == sessionID {
			f.sessions[i].Status = SessionClosed
		}
	}
	f.closed = append(f.closed, sessionID)
	return nil
}

func (f *fakeCRM) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// mapStore is a minimal Store for the relay tests.
type mapStore struct {
	mu       sync.Mutex
	regs     map[string]RegistrationState
	sessions map[string]CacheEntry
	failGet  bool
	locks    int
}

func newMapStore() *mapStore {
	return &mapStore{regs: map[string]RegistrationState{}, sessions: map[string]CacheEntry{}}
}

func (s *mapStore) GetRegistration(_ context.Context, chatID string) (*RegistrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errors.New("store unavailable")
	}
	st, ok := s.regs[chatID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *mapStore) PutRegistration(_ context.Context, chatID string, st RegistrationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[chatID] = st
	return nil
}

func (s *mapStore) DeleteRegistration(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regs, chatID)
	return nil
}

func (s *mapStore) GetSession(_ context.Context, chatID string) (*CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errors.New("store unavailable")
	}
	e, ok := s.sessions[chatID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *mapStore) PutSession(_ context.Context, chatID string, entry CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = entry
	return nil
}

func (s *mapStore) DeleteSession(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
	return nil
}

func (s *mapStore) Lock(_ context.Context, _ string) (func(), error) {
	s.mu.Lock()
	s.locks++
	s.mu.Unlock()
	return func() {}, nil
}

func (s *mapStore) registration(chatID string) (RegistrationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.regs[chatID]
	return st, ok
}

func (s *mapStore) session(chatID string) (CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[chatID]
	return e, ok
}

type sentText struct {
	ChatID string
	Text   string
	Photo  string
}

type fakeChat struct {
	mu      sync.Mutex
	sent    []sentText
	typing  int
	failAll bool
}

func (c *fakeChat) SendText(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("telegram: 502 bad gateway")
	}
	c.sent = append(c.sent, sentText{ChatID: chatID, Text: text})
	return nil
}

func (c *fakeChat) SendPhoto(_ context.Context, chatID, photoURL, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("telegram: 502 bad gateway")
	}
	c.sent = append(c.sent, sentText{ChatID: chatID, Text: caption, Photo: photoURL})
	return nil
}

func (c *fakeChat) SendTyping(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing++
	return nil
}

type memTranscript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
}

func (m *memTranscript) Save(_ context.Context, e *TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memTranscript) History(_ context.Context, chatID string, _ int) ([]TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TranscriptEntry
	for _, e := range m.entries {
		if e.ChatID == chatID {
			out = append(out, e)
		}
	}
	return out, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

// newTestRouter wires a router over fakes with polling delays removed.
func newTestRouter(crm *fakeCRM, st *mapStore) *Router {
	r := NewRouter(crm, st, Options{
		StrictPhone: true,
		Poll:        PollConfig{Attempts: 3, InitialDelay: time.Millisecond, Multiplier: 2},
	}, logging.Nop())
	r.sessions.sleep = noSleep
	return r
}

func inbound(chatID, msg string) InboundEvent {
	return InboundEvent{
		ChatID:  chatID,
		Text:    msg,
		Profile: UserProfile{UserID: chatID, FirstName: "Abebe", Username: "abebe_k"},
	}
}
