package relay

import (
	"fmt"
	"html"
	"strings"
)

const (
	msgTechnicalDifficulties = "⚠️ We're experiencing technical difficulties. Please try again in a few minutes."

	msgWelcome = "👋 Welcome!\n\n" +
		"To get started, please share:\n" +
		"• Your phone number (e.g. 0912121212)\n" +
		"• Or your email address"

	msgIdentifierPrompt = "Please share your phone number (e.g. 0912121212) or your email address so we can find your account."

	msgInvalidPhone = "❌ That phone number doesn't look right.\n\n" +
		"Please send a mobile number like 0912121212, 912121212 or +251912121212."

	msgEmailNotFound = "❌ No account found with this email.\n\n" +
		"Please share your phone number to create a new account."

	msgLinkFailed = "❌ Failed to connect your account. Please try again."

	msgAskGender = "📝 New registration detected.\n\n" +
		"Please select your gender:\n" +
		"• Male\n" +
		"• Female"

	msgRepeatGender = "Please select your gender:\n" +
		"• Male\n" +
		"• Female"

	msgAskName = "Please enter your First Name and Last Name (separated by space):\n" +
		"Example: John Smith"

	msgRepeatName = "Please enter both First Name and Last Name (separated by space):\n" +
		"Example: John Smith"

	msgCreateFailed = "❌ Sorry, we encountered an error creating your account. Please send your name again to retry."

	msgCaseTracking = "📋 Case tracking feature is coming soon!\n\n" + menuOptions

	msgDescribeRequest = "💬 Please describe your request or question.\n" +
		"(Our support team will assist you shortly)"

	msgAgentConnected = "✅ You are connected with an agent. Just type your message."

	msgNoSession = "ℹ️ You don't have an open support request."

	msgConfirmRestart = "⚠️ You already have an open support request.\n\n" +
		"Reply YES to discard it and start a new one, or NO to keep it."

	msgConfirmEnd = "⚠️ Do you want to end your current support request?\n\n" +
		"Reply YES to end it, or NO to keep it."

	msgSessionEnded = "✅ Your support request has been closed."

	msgSessionKept = "👍 Okay, your request stays open."

	msgSessionUnconfirmed = "⚠️ We couldn't confirm your support request. Please choose 2 from the menu to try again."

	msgSessionFailed = "❌ We couldn't open a support request right now. Please try again later."

	msgForwarded = "✅ Message sent to agent."

	msgForwardFailed = "⚠️ We couldn't deliver your message right now."

	menuOptions = "Please choose an option:\n" +
		"1️⃣ Track your Case\n" +
		"2️⃣ Contact Customer Support"

	menuSessionOptions = "\n3️⃣ Continue your open request\n" +
		"4️⃣ End your open request"
)

// Texts go out with HTML parse mode, so names taken from the CRM or the
// user are escaped before interpolation.
func mainMenu(name string, inSession bool) string {
	var b strings.Builder
	name = strings.TrimSpace(name)
	if name == "" {
		b.WriteString("👋 Welcome!\n\n")
	} else {
		fmt.Fprintf(&b, "👋 Welcome back, %s!\n\n", html.EscapeString(name))
	}
	b.WriteString(menuOptions)
	if inSession {
		b.WriteString(menuSessionOptions)
	}
	return b.String()
}

func msgLinked(name string) string {
	if name == "" {
		return "✅ Successfully connected!"
	}
	return fmt.Sprintf("✅ Successfully connected, %s!", html.EscapeString(name))
}

func msgAccountCreated(firstName string) string {
	return fmt.Sprintf("✅ Welcome, %s! Your account has been created.", html.EscapeString(firstName))
}

func msgQueued(position int, ok bool) string {
	if !ok {
		return "⏳ Your request is waiting for an agent."
	}
	return fmt.Sprintf("⏳ Your request is waiting for an agent. You are number %d in the queue.", position)
}

func msgForwardedWaiting(position int, ok bool) string {
	if !ok {
		return msgForwarded + "\n⏳ Waiting for an agent to accept your request."
	}
	return fmt.Sprintf("%s\n⏳ You are number %d in the queue.", msgForwarded, position)
}
