package relay

import (
	"fmt"
	"strings"
)

// ReplyKind categorizes replies.
type ReplyKind string

const (
	// KindGreeting answers /start.
	KindGreeting ReplyKind = "greeting"
	// KindHelp answers /help.
	KindHelp ReplyKind = "help"
	// KindSession answers the session toggles.
	KindSession ReplyKind = "session"
	// KindWait tells a rate-limited user how long to wait.
	KindWait ReplyKind = "wait"
	// KindCompletion carries the completion service's reply.
	KindCompletion ReplyKind = "completion"
	// KindError carries a fixed diagnostic after a failed completion.
	KindError ReplyKind = "error"
)

// Reply is the single outbound text for an inbound event.
type Reply struct {
	Text           string    `json:"reply"`
	Kind           ReplyKind `json:"kind"`
	DisablePreview bool      `json:"disable_preview"`
}

const (
	greetingBody = "I am your personal AI assistant. 🤖\n\n" +
		"I am here to answer your questions, provide information, and chat with you.\n" +
		"You can start by asking a question right away. 📚\n\n" +
		"How can I help you?"

	helpText = "Hello! I am your personal AI assistant. 🤖\n\n" +
		"You can interact with me using the following commands:\n\n" +
		"/start - Start me and see the welcome message.\n" +
		"/help - See this help message.\n" +
		"/createchat - Start a chat session that remembers your messages.\n" +
		"/deletechat - End your chat session and forget your messages.\n" +
		"/resetchat - Reset your message history.\n\n" +
		"If you have any questions or requests, just send a message.\n" +
		"I am here to answer your questions!"

	sessionCreatedText  = "Chat session created. I will remember your messages until you send /deletechat."
	sessionActiveText   = "You already have an active chat session."
	sessionDeletedText  = "Your chat session has been deleted."
	sessionNoneText     = "You do not have an active chat session to delete."
	historyResetText    = "Your message history has been reset."
	historyNoneText     = "You do not have any saved data."
	sessionFailedText   = "Something went wrong, please try again."
	transportFailedText = "HTTP Error!"
	malformedText       = "Invalid JSON response."
)

// greetingText addresses the user by name when the platform supplied one.
func greetingText(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return "Hello, " + name + "! 👋\n" + greetingBody
	}
	return "Hello! 👋\n" + greetingBody
}

func waitText(seconds int) string {
	return fmt.Sprintf("Please wait %d seconds and ask your question again.", seconds)
}

func textReply(kind ReplyKind, text string) Reply {
	return Reply{Text: text, Kind: kind}
}
