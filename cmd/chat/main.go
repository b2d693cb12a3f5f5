package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/qiwen/lan-chat/internal/client/identity"
	clientpresence "github.com/qiwen/lan-chat/internal/client/presence"
	"github.com/qiwen/lan-chat/internal/client/session"
	"github.com/qiwen/lan-chat/internal/model/presence"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:3000/ws", "chat server websocket URL")
	name := flag.String("name", "", "display name (default: stored or generated)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := identity.DefaultStore()
	if err != nil {
		log.Fatalf("failed to resolve identity storage: %v", err)
	}

	sess := session.New(*serverURL)
	coordinator := clientpresence.New(sess, store)
	if err := coordinator.Start(ctx, *name); err != nil {
		log.Fatalf("failed to join chat: %v", err)
	}
	defer coordinator.Stop()

	self := coordinator.Self()
	fmt.Printf("joined as %s (%s)\n", self.DisplayName, self.ConnectionID)
	fmt.Println("commands: /name <new>, /who, /quit")

	go printEvents(ctx, coordinator)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/who":
			printRoster(coordinator.OnlineUsers())
		case strings.HasPrefix(line, "/name "):
			coordinator.Rename(strings.TrimPrefix(line, "/name "))
			fmt.Printf("now known as %s\n", coordinator.Self().DisplayName)
		default:
			if err := coordinator.SendMessage(line); err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
		}
	}
}

func printEvents(ctx context.Context, coordinator *clientpresence.Coordinator) {
	for {
		select {
		case <-ctx.Done():
			return
		case roster, ok := <-coordinator.Updates():
			if !ok {
				return
			}
			printRoster(roster)
		case msg, ok := <-coordinator.Messages():
			if !ok {
				return
			}
			who := msg.DisplayName
			if msg.ConnectionID == coordinator.Self().ConnectionID {
				who += " (you)"
			}
			fmt.Printf("[%s] %s: %s\n", msg.SentAt.Local().Format("15:04:05"), who, msg.Content)
		}
	}
}

func printRoster(roster []presence.Participant) {
	if len(roster) == 0 {
		fmt.Println("* nobody else is online")
		return
	}
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.DisplayName)
	}
	fmt.Printf("* online: %s\n", strings.Join(names, ", "))
}
