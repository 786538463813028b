package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/dupahar-sync/pkg/model"
)

type LoginResponse struct {
	Token string `json:"token"`
}

// Command mirrors the gateway's inbound frame.
type Command struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	PeerID         string `json:"peer_id,omitempty"`
	Text           string `json:"text,omitempty"`
	Width          int    `json:"width,omitempty"`
}

var errQuit = errors.New("quit")

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", strings.TrimSpace(string(body)))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// parse turns one input line into a gateway command.
func parse(line string) (Command, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Type: "send", Text: line}, true, nil
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit":
		return Command{}, false, errQuit
	case "open":
		return Command{Type: "open", ConversationID: arg}, arg != "", nil
	case "dm":
		return Command{Type: "start", PeerID: arg}, arg != "", nil
	case "older":
		return Command{Type: "older"}, true, nil
	case "close", "back":
		return Command{Type: "close"}, true, nil
	case "typing":
		return Command{Type: "input", Text: arg}, true, nil
	case "width":
		width, err := strconv.Atoi(arg)
		if err != nil {
			return Command{}, false, fmt.Errorf("width: %w", err)
		}
		return Command{Type: "width", Width: width}, true, nil
	}
	return Command{}, false, fmt.Errorf("unknown command /%s", name)
}

const help = `commands: /dm <user>  /open <chat_id>  /older  /close  /typing <draft>  /width <px>  /list  /quit
anything else is sent to the open conversation`

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	chatID := flag.String("chat", "", "conversation to open on connect")
	dmUser := flag.String("dm", "", "user id to dm (overrides -chat)")
	width := flag.Int("width", 1280, "reported viewport width")
	flag.Parse()

	if err := run(*serverAddr, *apiAddr, *userID, *chatID, *dmUser, *width); err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
		os.Exit(1)
	}
}

func run(serverAddr, apiAddr, userID, chatID, dmUser string, width int) error {
	token, err := login(apiAddr, userID)
	if err != nil {
		return err
	}

	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws"}
	q := u.Query()
	if chatID != "" {
		q.Set("chatId", chatID)
	}
	q.Set("width", strconv.Itoa(width))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer c.Close()

	renderer := NewRenderer(os.Stdout, userID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var event model.Event
			if err := c.ReadJSON(&event); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fmt.Fprintln(os.Stderr, "read:", err)
				}
				return
			}
			renderer.Render(event)
		}
	}()

	if dmUser != "" {
		if err := c.WriteJSON(Command{Type: "start", PeerID: dmUser}); err != nil {
			return err
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	quit := make(chan struct{})

	go func() {
		defer close(quit)
		fmt.Println(help)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "/list" {
				renderer.List()
				continue
			}
			cmd, ok, err := parse(line)
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if !ok {
				continue
			}
			if err := c.WriteJSON(cmd); err != nil {
				fmt.Fprintln(os.Stderr, "write:", err)
				return
			}
		}
	}()

	select {
	case <-done:
		return nil
	case <-interrupt:
	case <-quit:
	}

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	if err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		return fmt.Errorf("write close: %w", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}
