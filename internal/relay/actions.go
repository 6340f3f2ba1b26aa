package relay

type ActionKind string

const (
	ActionSendText ActionKind = "send_text"
	ActionTyping   ActionKind = "typing"
)

// Action is one step for the caller to run against the chat platform.
type Action struct {
	Kind ActionKind
	Text string
}

type Outcome string

const (
	OutcomeUnavailable     Outcome = "unavailable"
	OutcomePrompt          Outcome = "prompt"
	OutcomeInvalidInput    Outcome = "invalid_input"
	OutcomeRegistration    Outcome = "registration_step"
	OutcomeLinked          Outcome = "linked"
	OutcomeCreated         Outcome = "created"
	OutcomeCreateFailed    Outcome = "create_failed"
	OutcomeMenu            Outcome = "menu"
	OutcomeCaseTracking    Outcome = "case_tracking"
	OutcomeSessionStarted  Outcome = "session_started"
	OutcomeSessionStatus   Outcome = "session_status"
	OutcomeSessionFailed   Outcome = "session_failed"
	OutcomeConfirmRequired Outcome = "confirm_required"
	OutcomeSessionClosed   Outcome = "session_closed"
	OutcomeForwarded       Outcome = "forwarded"
	OutcomeForwardFailed   Outcome = "forward_failed"
)

// Decision is the ordered result of routing one inbound event.
type Decision struct {
	ChatID  string
	Outcome Outcome
	Actions []Action
}

func newDecision(chatID string) *Decision {
	return &Decision{ChatID: chatID}
}

func (d *Decision) typing() *Decision {
	d.Actions = append(d.Actions, Action{Kind: ActionTyping})
	return d
}

func (d *Decision) say(texts ...string) *Decision {
	for _, t := range texts {
		d.Actions = append(d.Actions, Action{Kind: ActionSendText, Text: t})
	}
	return d
}

func (d *Decision) done(o Outcome) Decision {
	d.Outcome = o
	return *d
}

// Texts returns the text of every send action, in order.
func (d Decision) Texts() []string {
	var out []string
	for _, a := range d.Actions {
		if a.Kind == ActionSendText {
			out = append(out, a.Text)
		}
	}
	return out
}
