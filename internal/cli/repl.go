package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. App satisfies it.
type execIface interface {
	dispatch(ctx context.Context, cmd string, args []string) error
}

// runREPL reads commands from reader and dispatches them until EOF or
// "exit"/"quit". Command errors are printed and the loop continues.
//
//	ls [group]        list a group (root by default)
//	search <text>     search entries
//	show <entry> [-p] show an entry, -p reveals the password
//	add [-group g]    add an entry interactively
//	rm <entry>        recycle or delete an entry
//	fav <entry>       toggle favourite
//	otp <entry>       print the current TOTP code
//	audit             run the password audit
//	check             breach-check a password
//	update            pull remote changes
//	sync              merge with the stored copy and save
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("vault %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn("Available commands: ls, search, show, add, rm, fav, otp, audit, check, update, sync, exit")
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			if err := a.dispatch(ctx, cmd, args); err != nil {
				printlnFn("Error:", err)
			}
		}
	}
}
