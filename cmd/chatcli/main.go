// Package main provides the chat CLI entry point for testing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/vcjukebox/internal/api/httpapi"
	"github.com/osa030/vcjukebox/internal/app/notification"
)

var (
	app    = kingpin.New("vcjukebox-chatcli", "Voice chat jukebox client for testing")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Call bridge token for transport events").Envar("CALLS_BRIDGE_TOKEN").String()

	// send command
	sendCmd     = app.Command("send", "Send a chat command, e.g. send -100123 /play never gonna give you up")
	sendChatID  = sendCmd.Arg("chat-id", "Chat ID").Required().Int64()
	sendText    = sendCmd.Arg("text", "Command text").Required().Strings()
	sendPrivate = sendCmd.Flag("private", "Send as a private (non-group) message").Bool()
	sendUser    = sendCmd.Flag("user", "Sender display name").Default("chatcli").String()

	// show command
	showCmd    = app.Command("show", "Show a chat's playback state")
	showChatID = showCmd.Arg("chat-id", "Chat ID").Required().Int64()

	// end command
	endCmd    = app.Command("end", "Report that the current stream ended")
	endChatID = endCmd.Arg("chat-id", "Chat ID").Required().Int64()

	// close command
	closeCmd    = app.Command("close", "Report that the voice chat was closed")
	closeChatID = closeCmd.Arg("chat-id", "Chat ID").Required().Int64()

	// follow command
	followCmd    = app.Command("follow", "Follow playback announcements")
	followChatID = followCmd.Arg("chat-id", "Chat ID (optional, all chats when omitted)").Int64()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := httpapi.NewClient(*server, *token, nil)
	ctx := context.Background()

	// Execute command
	switch command {
	case sendCmd.FullCommand():
		send(ctx, client, *sendChatID, strings.Join(*sendText, " "))
	case showCmd.FullCommand():
		show(ctx, client, *showChatID)
	case endCmd.FullCommand():
		postEvent(ctx, client, "stream_ended", *endChatID)
	case closeCmd.FullCommand():
		postEvent(ctx, client, "voice_chat_closed", *closeChatID)
	case followCmd.FullCommand():
		follow(ctx, client, *followChatID)
	}
}

func send(ctx context.Context, client *httpapi.Client, chatID int64, text string) {
	resp, err := client.SendCommand(ctx, chatID, httpapi.CommandRequest{
		Text:  text,
		Group: !*sendPrivate,
		User:  *sendUser,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if resp.Kind == "ok" {
		fmt.Println(resp.Reply)
	} else {
		fmt.Printf("[%s] %s\n", resp.Kind, resp.Reply)
	}
}

func show(ctx context.Context, client *httpapi.Client, chatID int64) {
	view, err := client.GetChat(ctx, chatID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Chat %d: %s\n", view.ChatID, formatState(view.State))
	if view.NowPlaying != nil {
		fmt.Printf("  Now playing: %s (%d seconds)\n", view.NowPlaying.Title, view.NowPlaying.DurationSec)
		if view.StartedAt != nil {
			fmt.Printf("  Started at: %s\n", view.StartedAt.Local().Format("15:04:05"))
		}
	}
	if view.Volume > 0 {
		fmt.Printf("  Volume: %d%%\n", view.Volume)
	}
	if view.Pending > 0 {
		fmt.Printf("  Resolving: %d request(s)\n", view.Pending)
	}
	if len(view.Queue) == 0 {
		fmt.Println("  Queue: empty")
		return
	}
	fmt.Println("  Queue:")
	for i, t := range view.Queue {
		fmt.Printf("    %d. %s (%d seconds)\n", i+1, t.Title, t.DurationSec)
	}
}

func postEvent(ctx context.Context, client *httpapi.Client, eventType string, chatID int64) {
	if err := client.PostEvent(ctx, eventType, chatID); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reported %s for chat %d\n", eventType, chatID)
}

func follow(ctx context.Context, client *httpapi.Client, chatID int64) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Following announcements. Press Ctrl+C to exit.")
	err := client.Follow(ctx, chatID, printNotification)
	if err != nil {
		fmt.Printf("Stream error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nStopped following.")
}

func formatState(state string) string {
	switch state {
	case "playing":
		return "▶️  Playing"
	case "paused":
		return "⏸  Paused"
	case "idle":
		return "⏹  Idle"
	default:
		return "❓ Unknown"
	}
}

func printNotification(n *notification.Notification) {
	fmt.Printf("[Sequence: %d] %s chat=%d ", n.SequenceNo, n.Time.Local().Format("15:04:05"), n.ChatID)

	switch n.Type {
	case "track_started":
		fmt.Printf("▶️  Started: %s (%d seconds)\n", n.Title, n.DurationSec)
	case "track_skipped":
		fmt.Printf("⏭  Skipped: %s\n", n.Title)
	case "track_dropped":
		fmt.Printf("⚠️  Dropped (failed to start): %s\n", n.Title)
	case "state_changed":
		fmt.Printf("%s\n", formatState(n.State))
	case "queue_empty":
		fmt.Println("⏹  Queue empty, left the call")
	case "playback_stopped":
		fmt.Println("⏹  Stopped")
	case "session_closed":
		fmt.Println("🔚 Voice chat closed")
	default:
		fmt.Printf("=== UNKNOWN EVENT (%s) ===\n", n.Type)
	}
}
