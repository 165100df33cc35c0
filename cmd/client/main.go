package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddr string `envconfig:"CHAT_SERVER_ADDR" default:"localhost:5001"`
	Token      string `envconfig:"CHAT_TOKEN" required:"true"`
	// PeerID is the receiver of everything typed on stdin.
	PeerID  string `envconfig:"CHAT_PEER_ID"`
	Colours bool   `envconfig:"CHAT_COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run connects to the relay, prints everything the server pushes, and sends
// each stdin line as a message to the configured peer.
func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	color.Enable = config.Colours

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := url.URL{Scheme: "ws", Host: config.ServerAddr, Path: "/ws",
		RawQuery: "token=" + url.QueryEscape(config.Token)}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to %s: %w", config.ServerAddr, err)
	}
	defer conn.Close()

	color.Green.Printf(">>> Connected to %s (Ctrl+C to quit)\n", config.ServerAddr)

	// Reader: server pushes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			printEvent(raw)
		}
	}()

	// Writer: stdin lines become send_message frames.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if config.PeerID == "" {
				color.Yellow.Println("Set CHAT_PEER_ID to send messages")
				continue
			}
			frame, _ := json.Marshal(map[string]any{
				"event": "send_message",
				"data":  map[string]string{"receiverId": config.PeerID, "text": text},
			})
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		color.Gray.Println("Stopping client...")
		return exitOK, nil
	case <-done:
		return exitRuntime, fmt.Errorf("connection closed by server")
	}
}

// printEvent renders one server frame in a readable, colorized form.
func printEvent(raw []byte) {
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		color.Red.Printf("?? %s\n", raw)
		return
	}

	switch envelope.Event {
	case "receive_message":
		var payload struct {
			Message struct {
				SenderID string `json:"senderId"`
				Text     string `json:"text"`
			} `json:"message"`
		}
		_ = json.Unmarshal(envelope.Data, &payload)
		color.Cyan.Printf("[%s] %s\n", payload.Message.SenderID, payload.Message.Text)
	case "message_sent":
		var payload struct {
			Message struct {
				Status string `json:"status"`
			} `json:"message"`
		}
		_ = json.Unmarshal(envelope.Data, &payload)
		color.Gray.Printf("(sent: %s)\n", payload.Message.Status)
	case "user_status_changed":
		var payload struct {
			UserID string `json:"userId"`
			Status string `json:"status"`
		}
		_ = json.Unmarshal(envelope.Data, &payload)
		color.Magenta.Printf("* %s is now %s\n", payload.UserID, payload.Status)
	case "contact_activity":
		var payload struct {
			UserID   string `json:"userId"`
			Activity string `json:"activity"`
		}
		_ = json.Unmarshal(envelope.Data, &payload)
		color.Yellow.Printf("* %s is %s\n", payload.UserID, payload.Activity)
	case "error":
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(envelope.Data, &payload)
		color.Red.Printf("! %s\n", payload.Message)
	default:
		color.Gray.Printf("<%s> %s\n", envelope.Event, envelope.Data)
	}
}
