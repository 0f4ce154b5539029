// Command chatserver runs a single-room TCP chat server.
//
// Usage: chatserver <port> [<backlog>=10]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aegistudio/chatroom/chaterr"
	"github.com/aegistudio/chatroom/internal/chatroom"
)

// Exit codes are a stable part of the CLI contract; scripts driving this
// server dispatch on them. Code 7 historically identified a failed
// signal-handler installation; signal.Ignore cannot fail, so 7 doubles as
// the general runtime failure code.
const (
	exitNoServerPort     = 1
	exitPortNotNumber    = 2
	exitBacklogNotNumber = 3
	exitSocketCreation   = 4
	exitSocketBinding    = 5
	exitSocketListen     = 6
	exitRuntime          = 7
)

func usage() {
	fmt.Fprintln(os.Stderr, "chatserver - a simple chatroom server.")
	fmt.Fprintf(os.Stderr, "Usage: %s <serverPort> [<listenQueue>=10]\n", os.Args[0])
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) <= 1 {
		fmt.Fprintln(os.Stderr, "Error: the server port should be specified.")
		usage()
		return exitNoServerPort
	}

	port, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: the server port should be an integer.")
		usage()
		return exitPortNotNumber
	}

	backlog := 10
	if len(os.Args) >= 3 {
		backlog, err = strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: the listen queue should be an integer.")
			usage()
			return exitBacklogNotNumber
		}
	}

	server, err := chatroom.Listen(port, chatroom.WithBacklog(backlog))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ce, ok := err.(*chaterr.Error); ok {
			switch ce.Stage {
			case chaterr.StageSocket:
				return exitSocketCreation
			case chaterr.StageBind:
				return exitSocketBinding
			case chaterr.StageListen:
				return exitSocketListen
			}
		}
		return exitRuntime
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitRuntime
	}
	return 0
}
