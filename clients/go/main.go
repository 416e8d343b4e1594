// convsync CLI - demo client for the messaging service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"messaging-service/clients/go/convsync"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("MESSAGING_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8083"
	}
	token := os.Getenv("MESSAGING_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "MESSAGING_TOKEN is required")
		os.Exit(1)
	}

	client := convsync.NewClient(baseURL, token)
	cmd := os.Args[1]

	switch cmd {
	case "read":
		conversationID := argConversation(2)
		page, err := client.ListMessages(context.Background(), conversationID, "", 20)
		exitOnError(err)
		for _, msg := range page.Messages {
			printMessage(msg)
		}
		if page.HasMore {
			fmt.Printf("(more history; cursor %s)\n", page.NextCursor)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: convsync send <conversation_id> <message>")
			os.Exit(1)
		}
		conversationID := argConversation(2)
		msg, err := client.SendMessage(context.Background(), conversationID, convsync.SendParams{Content: os.Args[3]})
		exitOnError(err)
		fmt.Printf("Sent: #%d\n", msg.ID)

	case "watch":
		conversationID := argConversation(2)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		syncer := convsync.NewSyncer(client, conversationID)
		var shown int
		syncer.OnUpdate = func(s convsync.Snapshot) {
			if shown > len(s.Items) {
				shown = len(s.Items)
			}
			for _, item := range s.Items[shown:] {
				printMessage(item.Message)
			}
			shown = len(s.Items)
			if len(s.Typing) > 0 {
				fmt.Printf("(typing: %v)\n", s.Typing)
			}
		}
		syncer.Run(ctx)

	case "typing":
		conversationID := argConversation(2)
		typists, err := client.GetTyping(context.Background(), conversationID)
		exitOnError(err)
		fmt.Println(typists)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func argConversation(pos int) int {
	if len(os.Args) <= pos {
		fmt.Fprintln(os.Stderr, "conversation id required")
		os.Exit(1)
	}
	id, err := strconv.Atoi(os.Args[pos])
	exitOnError(err)
	return id
}

func printMessage(msg convsync.Message) {
	from := msg.SenderUsername
	if from == "" {
		from = fmt.Sprintf("user %d", msg.SenderID)
	}
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("2006-01-02 15:04:05"), from, msg.Content)
}

func usage() {
	fmt.Println(`convsync - messaging service demo client

Usage: convsync <command> [options]

Commands:
  read <conversation_id>            Show the latest messages
  send <conversation_id> <message>  Send a message
  watch <conversation_id>           Follow a conversation (poll loop)
  typing <conversation_id>          Show who is typing

Environment:
  MESSAGING_URL    Server URL (default: http://localhost:8083)
  MESSAGING_TOKEN  Bearer token (required)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
