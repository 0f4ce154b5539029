package session

import (
	"fmt"
	"strings"

	"github.com/aegistudio/chatroom/internal/ansi"
)

func welcomeMessage(name string) string {
	return ansi.Yellow + "Welcome to the chat room, " + ansi.Magenta + name + ansi.Yellow + "."
}

func joinMessage(name, addr string) string {
	return ansi.Yellow + "New user " + ansi.Magenta + name + ansi.Purple + " (" + addr + ")" +
		ansi.Format() + ansi.Yellow + " has joined the chat room."
}

func leaveMessage(name, addr string) string {
	return ansi.Yellow + "User " + ansi.Magenta + name + ansi.Purple + " (" + addr + ")" +
		ansi.Format() + ansi.Yellow + " has left the chat."
}

func rejectedMessage(name string) string {
	return ansi.Red + "Sorry but " + ansi.Magenta + name + ansi.Red +
		" is already online, why not choose another name?"
}

func chatMessage(name, chat string) string {
	return "[" + ansi.Magenta + name + ansi.Format() + "] " + chat
}

// onlineMessage lists names in the order given; callers pass an
// already-sorted snapshot so repeated /online calls are deterministic.
func onlineMessage(names []string) string {
	var b strings.Builder
	b.WriteString(ansi.Yellow)
	b.WriteString("There ")
	if len(names) > 1 {
		b.WriteString("are")
	} else {
		b.WriteString("is")
	}
	fmt.Fprintf(&b, " %d user", len(names))
	if len(names) > 1 {
		b.WriteString("s")
	}
	b.WriteString(" online: ")
	for i, name := range names {
		if i > 0 {
			b.WriteString(ansi.Yellow)
			b.WriteString(", ")
		}
		b.WriteString(ansi.Magenta)
		b.WriteString(name)
	}
	b.WriteString(ansi.Yellow)
	b.WriteString(".")
	return b.String()
}

// helpMessage enumerates commands in alphabetical order.
func helpMessage() string {
	return ansi.Yellow + "List of available commands: " +
		"\n" + ansi.Yellow + "/help" + ansi.Format() + ": show available commands." +
		"\n" + ansi.Yellow + "/online" + ansi.Format() + ": list online users in this chatroom."
}

func unknownCommandMessage(token string) string {
	return ansi.Red + "Unknown command " + ansi.BrightRed + "/" + token + ansi.Red +
		". Issue " + ansi.BrightRed + "/help" + ansi.Red + " for the list of commands."
}
