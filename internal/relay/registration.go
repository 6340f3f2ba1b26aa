package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

var registrationTriggers = map[string]bool{
	"/start":    true,
	"start":     true,
	"/register": true,
	"register":  true,
}

// Registration walks an unregistered chat from identifier to a linked or
// newly created CRM record. Steps only move forward.
type Registration struct {
	crm         CRM
	store       Store
	strictPhone bool
	log         *logging.Logger
	now         func() time.Time
}

func NewRegistration(crm CRM, store Store, strictPhone bool, log *logging.Logger) *Registration {
	return &Registration{
		crm:         crm,
		store:       store,
		strictPhone: strictPhone,
		log:         log.Sub("registration"),
		now:         time.Now,
	}
}

// Handle runs one step. st is nil while the chat has not given an identifier.
func (r *Registration) Handle(ctx context.Context, evt InboundEvent, st *RegistrationState) Decision {
	d := newDecision(evt.ChatID)
	if st == nil {
		return r.handleIdentifier(ctx, d, evt)
	}

	switch st.Step {
	case StepAwaitingGender:
		return r.handleGender(ctx, d, evt, *st)
	case StepAwaitingName:
		return r.handleName(ctx, d, evt, *st)
	default:
		r.log.Warn().Str("chatId", evt.ChatID).Str("step", string(st.Step)).Msg("unknown registration step, restarting")
		if err := r.store.DeleteRegistration(ctx, evt.ChatID); err != nil {
			return d.say(msgTechnicalDifficulties).done(OutcomeUnavailable)
		}
		return d.say(msgWelcome).done(OutcomePrompt)
	}
}

func (r *Registration) handleIdentifier(ctx context.Context, d *Decision, evt InboundEvent) Decision {
	text := strings.TrimSpace(evt.Text)

	switch {
	case IsPhoneNumber(text) || looksLikePhone(text):
		return r.handlePhone(ctx, d, evt, text)
	case IsEmail(text):
		return r.handleEmail(ctx, d, evt, text)
	case registrationTriggers[strings.ToLower(text)]:
		return d.say(msgWelcome).done(OutcomePrompt)
	default:
		return d.say(msgIdentifierPrompt).done(OutcomePrompt)
	}
}

func (r *Registration) handlePhone(ctx context.Context, d *Decision, evt InboundEvent, text string) Decision {
	phone := NormalizePhone(text)
	if r.strictPhone {
		if err := ValidatePhone(phone); err != nil {
			r.log.Info().Str("chatId", evt.ChatID).Str("phone", phone).Msg("rejected malformed phone")
			return d.say(msgInvalidPhone).done(OutcomeInvalidInput)
		}
	}

	d.typing()
	rec, err := r.crm.FindRecordByPhone(ctx, phone)
	if err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Msg("phone lookup failed")
		crmFailure("find_record_by_phone")
		return d.say(msgTechnicalDifficulties).done(OutcomeUnavailable)
	}
	if rec != nil {
		return r.link(ctx, d, evt, rec)
	}

	st := RegistrationState{
		Step:      StepAwaitingGender,
		Phone:     phone,
		StartedAt: r.now(),
	}
	if err := r.store.PutRegistration(ctx, evt.ChatID, st); err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Msg("saving registration state failed")
		return d.say(msgTechnicalDifficulties).done(OutcomeUnavailable)
	}
	r.log.Info().Str("chatId", evt.ChatID).Str("phone", phone).Msg("registration started")
	return d.say(msgAskGender).done(OutcomeRegistration)
}

func (r *Registration) handleEmail(ctx context.Context, d *Decision, evt InboundEvent, text string) Decision {
	d.typing()
	rec, err := r.crm.FindRecordByEmail(ctx, strings.ToLower(text))
	if err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Msg("email lookup failed")
		crmFailure("find_record_by_email")
		return d.say(msgTechnicalDifficulties).done(OutcomeUnavailable)
	}
	if rec == nil {
		return d.say(msgEmailNotFound).done(OutcomePrompt)
	}
	return r.link(ctx, d, evt, rec)
}

// link binds an existing record to this chat.
func (r *Registration) link(ctx context.Context, d *Decision, evt InboundEvent, rec *Record) Decision {
	fields := RecordFields{ChatID: evt.ChatID, Username: evt.Profile.Username}
	if err := r.crm.UpdateRecord(ctx, rec.ID, fields); err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Str("recordId", rec.ID).Msg("linking record failed")
		crmFailure("update_record")
		return d.say(msgLinkFailed).done(OutcomeCreateFailed)
	}
	r.log.Info().Str("chatId", evt.ChatID).Str("recordId", rec.ID).Msg("record linked")

	name := recordDisplayName(rec)
	return d.say(msgLinked(name), mainMenu(name, false)).done(OutcomeLinked)
}

func (r *Registration) handleGender(ctx context.Context, d *Decision, evt InboundEvent, st RegistrationState) Decision {
	gender, err := parseGender(evt.Text)
	if err != nil {
		return d.say(msgRepeatGender).done(OutcomeInvalidInput)
	}

	st.Gender = gender
	st.Step = StepAwaitingName
	if err := r.store.PutRegistration(ctx, evt.ChatID, st); err != nil {
		r.log.Error().Err(err).Str("chatId", evt.ChatID).Msg("saving registration state failed")
		return d.say(msgTechnicalDifficulties).done(OutcomeUnavailable)
	}
	return d.say(msgAskName).done(OutcomeRegistration)
}

func (r *Registration) handleName(ctx context.Context, d *Decision, evt InboundEvent, st RegistrationState) Decision {
	first, last, err := parseName(evt.Text)
	if err != nil {
		return d.say(msgRepeatName).done(OutcomeInvalidInput)
	}

	st.FirstName = first
	salutation := salutationFor(st.Gender)
	d.typing()
	id, err := r.crm.CreateRecord(ctx, RecordFields{
		FirstName:  first,
		LastName:   last,
		Salutation: salutation,
		Phone:      st.Phone,
		ChatID:     evt.ChatID,
		Username:   evt.Profile.Username,
	})
	if err != nil {
		// State stays put so the same name can be resent.
		r.log.Error().Err(fmt.Errorf("%w: %v", ErrCreateFailure, err)).Str("chatId", evt.ChatID).Msg("creating record failed")
		crmFailure("create_record")
		if perr := r.store.PutRegistration(ctx, evt.ChatID, st); perr != nil {
			r.log.Warn().Err(perr).Str("chatId", evt.ChatID).Msg("saving registration state failed")
		}
		return d.say(msgCreateFailed).done(OutcomeCreateFailed)
	}

	if err := r.store.DeleteRegistration(ctx, evt.ChatID); err != nil {
		r.log.Warn().Err(err).Str("chatId", evt.ChatID).Msg("clearing registration state failed")
	}
	r.log.Info().Str("chatId", evt.ChatID).Str("recordId", id).Msg("record created")

	return d.say(
		msgAccountCreated(first),
		mainMenu(strings.TrimSpace(salutation+" "+first), false),
	).done(OutcomeCreated)
}

func parseGender(text string) (string, error) {
	g := strings.ToLower(strings.TrimSpace(text))
	if g != "male" && g != "female" {
		return "", fmt.Errorf("%w: gender %q", ErrValidation, text)
	}
	return g, nil
}

// parseName splits on whitespace: the first token is the first name and the
// rest, single-spaced, the last name.
func parseName(text string) (string, string, error) {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: name %q", ErrValidation, text)
	}
	return parts[0], strings.Join(parts[1:], " "), nil
}

func salutationFor(gender string) string {
	if gender == "male" {
		return "Mr."
	}
	return "Ms."
}
