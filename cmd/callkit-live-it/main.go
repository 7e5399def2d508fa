// Command callkit-live-it is a manual integration harness: it starts or
// joins a real call against a backend, prints the event stream, plays
// synthesized speech through ffplay, and forwards stdin lines as user text.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meetscribe/callkit/internal/dotenv"
	callkit "github.com/meetscribe/callkit/sdk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = dotenv.LoadFile(".env")

	var (
		baseURL   = flag.String("base-url", os.Getenv("CALLKIT_BASE_URL"), "backend base URL (http(s) or ws(s))")
		apiKey    = flag.String("api-key", os.Getenv("CALLKIT_API_KEY"), "backend API key")
		userID    = flag.String("user", os.Getenv("CALLKIT_USER_ID"), "user id for conversation calls")
		roomID    = flag.String("room", "", "room id for a new call")
		platform  = flag.String("platform", "meet", "meeting platform for a new call")
		joinID    = flag.String("join", "", "join an existing conversation instead of starting one")
		status    = flag.Bool("status", false, "also follow the meeting automation status stream")
		noSpeaker = flag.Bool("no-speaker", false, "consume audio without ffplay output")
		volume    = flag.Int("volume", 80, "ffplay volume (0-100)")
		debug     = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	if strings.TrimSpace(*baseURL) == "" {
		return fmt.Errorf("missing -base-url (or CALLKIT_BASE_URL)")
	}
	if *joinID == "" && strings.TrimSpace(*roomID) == "" {
		return fmt.Errorf("one of -room or -join is required")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []callkit.ClientOption{
		callkit.WithBaseURL(*baseURL),
		callkit.WithLogger(logger),
	}
	if *apiKey != "" {
		opts = append(opts, callkit.WithAPIKey(*apiKey))
	}
	if *userID != "" {
		opts = append(opts, callkit.WithUserID(*userID))
	}
	client := callkit.NewClient(opts...)

	sink := newFFPlaySink(os.Getenv("FFPLAY_PATH"), 16000, 1, *volume, *noSpeaker)
	defer sink.Close()
	queue := callkit.NewPlaybackQueue(sink, logger)
	detach := queue.Attach(client.Calls)
	defer detach()

	unsubEvents := client.Calls.OnMessage(printEvent)
	defer unsubEvents()
	unsubStatus := client.Calls.OnStatusChange(func(state callkit.ConnectionState) {
		fmt.Printf("[conn] %s\n", state)
	})
	defer unsubStatus()

	ctx := context.Background()
	var sessionID string
	if *joinID != "" {
		if err := client.Calls.JoinCall(ctx, *joinID); err != nil {
			return err
		}
		sessionID = *joinID
	} else {
		info, err := client.Calls.StartCall(ctx, &callkit.StartCallRequest{RoomID: *roomID, Platform: *platform})
		if err != nil {
			return err
		}
		sessionID = info.SessionID
		fmt.Printf("[call] session=%s meeting=%s url=%s\n", info.SessionID, info.MeetingID, info.MeetingURL)
	}
	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Calls.EndCall(endCtx)
	}()

	if *status {
		stream, err := client.Automation.Listen(ctx, sessionID)
		if err != nil {
			logger.Warn("automation status unavailable", "error", err)
		} else {
			defer stream.Close()
			go func() {
				for {
					select {
					case <-stream.Done():
						return
					case msg := <-stream.Events():
						fmt.Printf("[automation] stage=%s %s\n", msg.Stage, msg.Message)
					}
				}
			}()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("type a message and press enter; ctrl-c to hang up")
	for {
		select {
		case <-sigCh:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := client.Calls.SendMessage(line); err != nil {
				logger.Warn("send failed", "error", err)
			}
		}
	}
}

func printEvent(ev callkit.CallEvent) {
	switch ev.Type {
	case callkit.EventTTSAudio, callkit.EventAudioData:
		// Audio goes to the playback queue, not the console.
	case callkit.EventUserSpeech:
		fmt.Printf("[you] %s\n", ev.Content)
	case callkit.EventAIResponse:
		fmt.Printf("[agent] %s\n", ev.Content)
	case callkit.EventSystemMessage:
		fmt.Printf("[system] %s\n", ev.Content)
	default:
		fmt.Printf("[%s] %s\n", ev.Type, ev.Content)
	}
}
