package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

// Options tune the router's collaborators.
type Options struct {
	StrictPhone bool
	Poll        PollConfig
	Policy      SupportPolicy
}

// Router turns one inbound event into an ordered list of actions.
type Router struct {
	crm      CRM
	store    Store
	resolver *Resolver
	reg      *Registration
	sessions *Sessions
	policy   SupportPolicy
	log      *logging.Logger
	now      func() time.Time
}

func NewRouter(crm CRM, store Store, opts Options, log *logging.Logger) *Router {
	policy := opts.Policy
	if policy == nil {
		policy = DefaultHeuristic()
	}
	return &Router{
		crm:      crm,
		store:    store,
		resolver: NewResolver(crm, store),
		reg:      NewRegistration(crm, store, opts.StrictPhone, log),
		sessions: NewSessions(crm, store, opts.Poll, log),
		policy:   policy,
		log:      log.Sub("router"),
		now:      time.Now,
	}
}

// Route handles one event under the chat's lock. It never fails: every
// error degrades to a message for the user.
func (r *Router) Route(ctx context.Context, evt InboundEvent) Decision {
	start := time.Now()
	d := r.route(ctx, evt)
	m := metrics()
	m.routeDuration.Observe(time.Since(start).Seconds())
	m.decisions.WithLabelValues(string(d.Outcome)).Inc()
	return d
}

func (r *Router) route(ctx context.Context, evt InboundEvent) Decision {
	unlock, err := r.store.Lock(ctx, evt.ChatID)
	if err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Msg("acquiring chat lock failed")
		return newDecision(evt.ChatID).say(msgTechnicalDifficulties).done(OutcomeUnavailable)
	}
	defer unlock()

	id, err := r.resolver.Resolve(ctx, evt.ChatID)
	if err != nil {
		crmFailure("resolve")
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Msg("identity resolution failed")
		return newDecision(evt.ChatID).say(msgTechnicalDifficulties).done(OutcomeUnavailable)
	}

	switch id.State {
	case Registered:
		return r.routeRegistered(ctx, evt, id)
	default:
		return r.reg.Handle(ctx, evt, id.Registration)
	}
}

func (r *Router) routeRegistered(ctx context.Context, evt InboundEvent, id ResolvedIdentity) Decision {
	d := newDecision(evt.ChatID)

	cur, err := r.sessions.Current(ctx, evt.ChatID, id.RecordID)
	if err != nil {
		r.log.Warn().Err(err).Str("chatId", evt.ChatID).Msg("session check failed, showing menu")
		return d.say(mainMenu(id.RecordName, false)).done(OutcomeMenu)
	}

	if trig, ok := MatchTrigger(evt.Text, cur.Pending != ConfirmNone); ok {
		return r.runTrigger(ctx, d, evt, id, cur, trig)
	}
	if cur.Pending != ConfirmNone {
		cur = r.sessions.SetPending(ctx, evt.ChatID, cur, ConfirmNone)
	}

	if cur.InSession {
		return r.forward(ctx, d, evt, id, cur)
	}

	if r.policy.IsSupportRequest(ctx, evt.Text) {
		return r.startSession(ctx, d, evt, id, cur, true)
	}
	return d.say(mainMenu(id.RecordName, false)).done(OutcomeMenu)
}

func (r *Router) runTrigger(ctx context.Context, d *Decision, evt InboundEvent, id ResolvedIdentity, cur CacheEntry, trig Trigger) Decision {
	if cur.Pending != ConfirmNone && trig != TriggerConfirm && trig != TriggerDecline {
		cur = r.sessions.SetPending(ctx, evt.ChatID, cur, ConfirmNone)
	}

	switch trig {
	case TriggerTrack:
		return d.say(msgCaseTracking).done(OutcomeCaseTracking)

	case TriggerSupport:
		if cur.InSession {
			r.sessions.SetPending(ctx, evt.ChatID, cur, ConfirmRestart)
			return d.say(msgConfirmRestart).done(OutcomeConfirmRequired)
		}
		return r.startSession(ctx, d, evt, id, cur, false)

	case TriggerContinue:
		if !cur.InSession {
			return d.say(msgNoSession, mainMenu(id.RecordName, false)).done(OutcomeMenu)
		}
		return d.say(r.statusText(ctx, cur)).done(OutcomeSessionStatus)

	case TriggerEnd:
		if !cur.InSession {
			return d.say(msgNoSession, mainMenu(id.RecordName, false)).done(OutcomeMenu)
		}
		r.sessions.SetPending(ctx, evt.ChatID, cur, ConfirmEnd)
		return d.say(msgConfirmEnd).done(OutcomeConfirmRequired)

	case TriggerConfirm:
		return r.confirm(ctx, d, evt, id, cur)

	case TriggerDecline:
		cur = r.sessions.SetPending(ctx, evt.ChatID, cur, ConfirmNone)
		return d.say(msgSessionKept, r.statusText(ctx, cur)).done(OutcomeSessionStatus)

	default:
		return d.say(mainMenu(id.RecordName, cur.InSession)).done(OutcomeMenu)
	}
}

func (r *Router) confirm(ctx context.Context, d *Decision, evt InboundEvent, id ResolvedIdentity, cur CacheEntry) Decision {
	pending := cur.Pending
	if err := r.sessions.Close(ctx, evt.ChatID, cur); err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Str("sessionId", cur.SessionID).Msg("closing session failed")
		return d.say(msgTechnicalDifficulties, mainMenu(id.RecordName, true)).done(OutcomeMenu)
	}
	r.log.Info().Str("chatId", evt.ChatID).Str("sessionId", cur.SessionID).Msg("session closed by user")

	next := CacheEntry{ConversationID: cur.ConversationID}
	if pending == ConfirmRestart {
		return r.startSession(ctx, d, evt, id, next, false)
	}
	return d.say(msgSessionEnded, mainMenu(id.RecordName, false)).done(OutcomeSessionClosed)
}

// startSession opens a session. With forward set the triggering message is
// delivered into it; otherwise the user is asked to describe the request.
func (r *Router) startSession(ctx context.Context, d *Decision, evt InboundEvent, id ResolvedIdentity, cur CacheEntry, forward bool) Decision {
	d.typing()
	entry, err := r.sessions.Initiate(ctx, evt.ChatID, id.RecordID, evt.Profile, cur)
	if err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Msg("opening support session failed")
		if errors.Is(err, ErrSessionUnconfirmed) {
			return d.say(msgSessionUnconfirmed).done(OutcomeSessionFailed)
		}
		return d.say(msgSessionFailed, mainMenu(id.RecordName, false)).done(OutcomeSessionFailed)
	}

	if forward {
		return r.forward(ctx, d, evt, id, entry)
	}
	return d.say(r.statusText(ctx, entry), msgDescribeRequest).done(OutcomeSessionStarted)
}

func (r *Router) forward(ctx context.Context, d *Decision, evt InboundEvent, id ResolvedIdentity, cur CacheEntry) Decision {
	err := r.crm.PostSessionMessage(ctx, SessionMessage{
		ID:             uuid.NewString(),
		ChatID:         evt.ChatID,
		ConversationID: cur.ConversationID,
		SessionID:      cur.SessionID,
		SenderName:     evt.Profile.DisplayName(),
		Text:           evt.Text,
		SentAt:         r.now(),
	})
	if err != nil {
		crmFailure("post_session_message")
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Str("sessionId", cur.SessionID).Msg("forwarding message failed")
		return d.say(msgForwardFailed, mainMenu(id.RecordName, true)).done(OutcomeForwardFailed)
	}

	r.log.Debug().Str("chatId", evt.ChatID).Str("sessionId", cur.SessionID).Msg("message forwarded")
	if cur.Status == SessionWaiting {
		pos, ok := r.sessions.QueuePosition(ctx, cur.SessionID)
		return d.say(msgForwardedWaiting(pos, ok)).done(OutcomeForwarded)
	}
	return d.say(msgForwarded).done(OutcomeForwarded)
}

func (r *Router) statusText(ctx context.Context, cur CacheEntry) string {
	if cur.Status == SessionActive {
		return msgAgentConnected
	}
	pos, ok := r.sessions.QueuePosition(ctx, cur.SessionID)
	return msgQueued(pos, ok)
}
