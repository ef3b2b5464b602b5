// The linechat terminal client. Connects to the chat server, introduces
// itself (optionally with the name given as the sole positional argument),
// and relays typed commands. Server responses are printed as they arrive.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/adred-codev/linechat/internal/config"
)

// Verbs the server understands; everything else is handled locally.
var serverSideVerbs = map[string]bool{
	"RENAME":  true,
	"USERS":   true,
	"SEND":    true,
	"CANCEL":  true,
	"HISTORY": true,
	"REPORT":  true,
}

const helpText = `Commands:
  RENAME <name>                 change your display name
  USERS                         list connected users
  SEND [-d N] [-r NAME] <text>  send a message (optionally delayed/private)
  CANCEL                        cancel your most recent delayed message
  HISTORY                       show your message history
  REPORT <name>                 report a user
  HELP                          show this help
  EXIT                          quit`

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conn, err := net.Dial("tcp", cfg.Addr())
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.Addr(), err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", cfg.Addr())

	// Print server lines as they arrive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
		fmt.Println("Server shutdown")
	}()

	// One command per write, no trailing newline: the server treats each
	// received chunk as a single request.
	send := func(request string) error {
		_, err := conn.Write([]byte(request))
		return err
	}

	introduce := "introduce"
	if len(os.Args) > 1 {
		introduce = "introduce " + os.Args[1]
	}
	if err := send(introduce); err != nil {
		log.Fatalf("Failed to introduce: %v", err)
	}

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}

		verb := strings.ToUpper(strings.Fields(line)[0])
		switch {
		case serverSideVerbs[verb]:
			if err := send(line); err != nil {
				log.Fatalf("Failed to send: %v", err)
			}
		case verb == "EXIT":
			return
		case verb == "HELP":
			fmt.Println(helpText)
		default:
			fmt.Printf("Unknown command: %q. Type \"help\" to see list of available commands\n", verb)
		}
	}
}
