package relay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

var liveStatuses = []SessionStatus{SessionWaiting, SessionActive}

// PollConfig bounds how long initiation waits for the CRM to materialize a
// new session.
type PollConfig struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

func DefaultPollConfig() PollConfig {
	return PollConfig{Attempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2}
}

// Sessions tracks the current support session per chat. The CRM is the
// source of truth; the store only caches what was last seen.
type Sessions struct {
	crm   CRM
	store Store
	poll  PollConfig
	log   *logging.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSessions(crm CRM, store Store, poll PollConfig, log *logging.Logger) *Sessions {
	if poll.Attempts < 1 {
		poll.Attempts = 1
	}
	if poll.Multiplier < 1 {
		poll.Multiplier = 1
	}
	return &Sessions{
		crm:   crm,
		store: store,
		poll:  poll,
		log:   log.Sub("sessions"),
		sleep: sleepCtx,
	}
}

// Current returns the verified session state for a registered chat. A cached
// session the CRM no longer lists is dropped, and the record's active
// conversation is looked up afresh before reporting no session.
func (s *Sessions) Current(ctx context.Context, chatID, recordID string) (CacheEntry, error) {
	cached, err := s.store.GetSession(ctx, chatID)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("session cache: %w", err)
	}

	convID := ""
	if cached != nil {
		convID = cached.ConversationID
	}
	fromCache := convID != ""
	if !fromCache {
		if convID, err = s.activeConversation(ctx, recordID); err != nil {
			return CacheEntry{}, err
		}
		if convID == "" {
			s.discard(ctx, chatID, cached)
			return CacheEntry{}, nil
		}
	}

	live, err := s.liveSessions(ctx, convID)
	if err != nil {
		return CacheEntry{}, err
	}
	if len(live) == 0 && fromCache {
		fresh, err := s.activeConversation(ctx, recordID)
		if err != nil {
			return CacheEntry{}, err
		}
		if fresh != convID && fresh != "" {
			if live, err = s.liveSessions(ctx, fresh); err != nil {
				return CacheEntry{}, err
			}
		}
		convID = fresh
	}
	if len(live) == 0 {
		s.discard(ctx, chatID, cached)
		return CacheEntry{ConversationID: convID}, nil
	}

	cur := live[len(live)-1]
	if cached != nil && cached.SessionID != "" {
		for _, l := range live {
			if l.ID == cached.SessionID {
				cur = l
				break
			}
		}
	}

	entry := CacheEntry{
		InSession:      true,
		ConversationID: convID,
		SessionID:      cur.ID,
		Status:         cur.Status,
	}
	if cached != nil && cached.SessionID == cur.ID {
		entry.Pending = cached.Pending
	}
	s.save(ctx, chatID, entry)
	return entry, nil
}

// activeConversation returns the record's open conversation id, or "".
func (s *Sessions) activeConversation(ctx context.Context, recordID string) (string, error) {
	conv, err := s.crm.FindActiveConversation(ctx, recordID)
	if err != nil {
		crmFailure("find_active_conversation")
		return "", fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil {
		return "", nil
	}
	return conv.ID, nil
}

func (s *Sessions) liveSessions(ctx context.Context, convID string) ([]Session, error) {
	live, err := s.crm.FindSessions(ctx, convID, liveStatuses)
	if err != nil {
		crmFailure("find_sessions")
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	return live, nil
}

func (s *Sessions) discard(ctx context.Context, chatID string, cached *CacheEntry) {
	if cached == nil {
		return
	}
	if cached.InSession {
		metrics().staleCache.Inc()
		s.log.Info().Str("chatId", chatID).Str("sessionId", cached.SessionID).Msg("discarding stale session cache entry")
	}
	if err := s.store.DeleteSession(ctx, chatID); err != nil {
		s.log.Warn().Err(err).Str("chatId", chatID).Msg("deleting session cache entry failed")
	}
}

func (s *Sessions) save(ctx context.Context, chatID string, entry CacheEntry) {
	if err := s.store.PutSession(ctx, chatID, entry); err != nil {
		s.log.Warn().Err(err).Str("chatId", chatID).Msg("saving session cache entry failed")
	}
}

// SetPending records or clears a confirmation the user still owes.
func (s *Sessions) SetPending(ctx context.Context, chatID string, entry CacheEntry, p PendingConfirm) CacheEntry {
	entry.Pending = p
	s.save(ctx, chatID, entry)
	return entry
}

// Initiate asks the CRM for a new session and waits for it to appear.
func (s *Sessions) Initiate(ctx context.Context, chatID, recordID string, profile UserProfile, cur CacheEntry) (CacheEntry, error) {
	convID := cur.ConversationID
	if convID == "" {
		var err error
		if convID, err = s.activeConversation(ctx, recordID); err != nil {
			return CacheEntry{}, err
		}
		if convID == "" {
			convID, err = s.crm.CreateConversation(ctx, recordID)
			if err != nil {
				crmFailure("create_conversation")
				return CacheEntry{}, fmt.Errorf("%w: conversation: %v", ErrCreateFailure, err)
			}
		}
	}

	before, err := s.liveSessions(ctx, convID)
	if err != nil {
		return CacheEntry{}, err
	}
	seen := make(map[string]bool, len(before))
	for _, b := range before {
		seen[b.ID] = true
	}

	err = s.crm.CreateSession(ctx, convID, SessionInitiator{
		ChatID:      chatID,
		RecordID:    recordID,
		DisplayName: profile.DisplayName(),
		Username:    profile.Username,
	})
	if err != nil {
		crmFailure("create_session")
		metrics().sessions.WithLabelValues("create_failed").Inc()
		return CacheEntry{}, fmt.Errorf("%w: session: %v", ErrCreateFailure, err)
	}

	sess, err := s.await(ctx, convID, seen)
	if err != nil {
		metrics().sessions.WithLabelValues("unconfirmed").Inc()
		return CacheEntry{ConversationID: convID}, err
	}
	metrics().sessions.WithLabelValues("confirmed").Inc()

	entry := CacheEntry{
		InSession:      true,
		ConversationID: convID,
		SessionID:      sess.ID,
		Status:         sess.Status,
	}
	s.save(ctx, chatID, entry)
	s.log.Info().Str("chatId", chatID).Str("sessionId", sess.ID).Str("conversationId", convID).Msg("support session opened")
	return entry, nil
}

// await polls with backoff for a session that was not there before create.
func (s *Sessions) await(ctx context.Context, convID string, seen map[string]bool) (Session, error) {
	delay := s.poll.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= s.poll.Attempts; attempt++ {
		if err := s.sleep(ctx, delay); err != nil {
			return Session{}, err
		}
		delay = time.Duration(float64(delay) * s.poll.Multiplier)

		live, err := s.crm.FindSessions(ctx, convID, liveStatuses)
		if err != nil {
			crmFailure("find_sessions")
			lastErr = err
			continue
		}
		for i := len(live) - 1; i >= 0; i-- {
			if !seen[live[i].ID] {
				return live[i], nil
			}
		}
	}
	if lastErr != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSessionUnconfirmed, lastErr)
	}
	return Session{}, ErrSessionUnconfirmed
}

// Close ends a session in the CRM and forgets it locally.
func (s *Sessions) Close(ctx context.Context, chatID string, entry CacheEntry) error {
	if err := s.crm.CloseSession(ctx, entry.SessionID); err != nil {
		crmFailure("close_session")
		return fmt.Errorf("close session: %w", err)
	}
	if err := s.store.DeleteSession(ctx, chatID); err != nil {
		s.log.Warn().Err(err).Str("chatId", chatID).Msg("deleting session cache entry failed")
	}
	return nil
}

// QueuePosition is the global intake-queue rank, or false when unknown.
func (s *Sessions) QueuePosition(ctx context.Context, sessionID string) (int, bool) {
	pos, ok, err := s.crm.FindGlobalQueueRank(ctx, sessionID)
	if err != nil {
		crmFailure("find_global_queue_rank")
		s.log.Warn().Err(err).Str("sessionId", sessionID).Msg("queue rank lookup failed")
		return 0, false
	}
	return pos, ok
}

// RankInQueue returns the 1-based position of sessionID among waiting,
// ordered by creation time with ties broken by id.
func RankInQueue(waiting []Session, sessionID string) (int, bool) {
	ordered := make([]Session, len(waiting))
	copy(ordered, waiting)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	for i, s := range ordered {
		if s.ID == sessionID {
			return i + 1, true
		}
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
