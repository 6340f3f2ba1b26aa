package relay

import "strings"

type Trigger string

const (
	TriggerMenu     Trigger = "menu"
	TriggerTrack    Trigger = "track_case"
	TriggerSupport  Trigger = "contact_support"
	TriggerContinue Trigger = "continue_session"
	TriggerEnd      Trigger = "end_session"
	TriggerConfirm  Trigger = "confirm_yes"
	TriggerDecline  Trigger = "confirm_no"
)

// menuVocabulary is matched exactly, case-insensitively. Button callbacks
// reuse the trigger names as their tokens.
var menuVocabulary = map[string]Trigger{
	"hi":     TriggerMenu,
	"hello":  TriggerMenu,
	"hey":    TriggerMenu,
	"selam":  TriggerMenu,
	"/start": TriggerMenu,
	"start":  TriggerMenu,
	"menu":   TriggerMenu,
	"/menu":  TriggerMenu,
	"help":   TriggerMenu,
	"/help":  TriggerMenu,

	"1": TriggerTrack,
	"2": TriggerSupport,
	"3": TriggerContinue,
	"4": TriggerEnd,

	string(TriggerTrack):    TriggerTrack,
	string(TriggerSupport):  TriggerSupport,
	string(TriggerContinue): TriggerContinue,
	string(TriggerEnd):      TriggerEnd,
}

// confirmVocabulary only applies while a confirmation is pending.
var confirmVocabulary = map[string]Trigger{
	"yes":                  TriggerConfirm,
	"y":                    TriggerConfirm,
	string(TriggerConfirm): TriggerConfirm,
	"no":                   TriggerDecline,
	"n":                    TriggerDecline,
	string(TriggerDecline): TriggerDecline,
}

// MatchTrigger maps text to a menu trigger.
func MatchTrigger(text string, pending bool) (Trigger, bool) {
	key := strings.ToLower(strings.TrimSpace(text))
	if pending {
		if t, ok := confirmVocabulary[key]; ok {
			return t, true
		}
	}
	t, ok := menuVocabulary[key]
	return t, ok
}
