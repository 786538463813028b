package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/dupahar-sync/pkg/auth"
	"github.com/mahaj/dupahar-sync/pkg/backend"
	"github.com/mahaj/dupahar-sync/pkg/convlist"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/page"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum command size allowed from peer.
	maxMessageSize = 32 << 10

	// Commands waiting for a busy worker before the read loop stalls.
	commandBacklog = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var validate = validator.New()

type CommandType string

const (
	CmdOpen  CommandType = "open"
	CmdOlder CommandType = "older"
	CmdClose CommandType = "close"
	CmdSend  CommandType = "send"
	CmdInput CommandType = "input"
	CmdStart CommandType = "start"
	CmdWidth CommandType = "width"
)

// Command is one inbound client frame.
type Command struct {
	Type           CommandType `json:"type" validate:"required,oneof=open older close send input start width"`
	ConversationID string      `json:"conversation_id" validate:"required_if=Type open"`
	PeerID         string      `json:"peer_id" validate:"required_if=Type start"`
	Text           string      `json:"text" validate:"max=16384"`
	Width          int         `json:"width" validate:"gte=0"`
}

// Gateway upgrades authenticated requests and runs one page per connection.
type Gateway struct {
	hub      *Hub
	issuer   *auth.Issuer
	backends *backend.Backends
	log      *slog.Logger
	config   Config
	active   sync.WaitGroup
}

// Wait blocks until every connection has been torn down.
func (g *Gateway) Wait() {
	g.active.Wait()
}

// Client is a middleman between the websocket connection and its page.
type Client struct {
	ID     string
	UserID string

	conn *websocket.Conn
	log  *slog.Logger
	page *page.Page

	// Buffered channel of outbound frames.
	send chan []byte
	done chan struct{}
	once sync.Once

	// Navigation (open, start, close) and composer (send, input) commands
	// each run in order on their own worker, off the read loop.
	nav     chan navCommand
	compose chan Command
	workers sync.WaitGroup

	navMu  sync.Mutex
	navSeq uint64
}

// navCommand is tagged so a worker can skip requests overtaken by newer ones.
type navCommand struct {
	seq uint64
	cmd Command
}

// Emit queues event for the connection. A client that cannot keep up is dropped.
func (c *Client) Emit(event model.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		c.log.Warn("Failed to encode event", "type", event.Type, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.log.Warn("Dropping slow client", "connection_id", c.ID)
		c.shutdown()
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// readPump routes commands to the workers until the connection ends. It
// never waits on the store, so pongs and later commands are always read.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Connection read failed", "connection_id", c.ID, "error", err)
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(frame, &cmd); err != nil {
			c.Emit(model.Event{Type: model.EventError, Error: "malformed command", Kind: "validation"})
			continue
		}
		if err := validate.Struct(cmd); err != nil {
			c.Emit(model.Event{Type: model.EventError, Error: err.Error(), Kind: "validation", Text: cmd.Text})
			continue
		}
		c.route(ctx, cmd)
	}
}

// route hands cmd to the worker that owns its kind. A navigation first
// interrupts the one in flight so a stuck load cannot hold the next one back.
func (c *Client) route(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CmdOpen, CmdStart, CmdClose:
		c.navMu.Lock()
		c.navSeq++
		seq := c.navSeq
		c.navMu.Unlock()
		c.page.Interrupt()
		select {
		case c.nav <- navCommand{seq: seq, cmd: cmd}:
		case <-ctx.Done():
		}
	case CmdSend, CmdInput:
		select {
		case c.compose <- cmd:
		case <-ctx.Done():
		}
	case CmdOlder:
		c.workers.Add(1)
		go func() {
			defer c.workers.Done()
			c.dispatch(ctx, cmd)
		}()
	default:
		c.dispatch(ctx, cmd)
	}
}

// navigate starts the page, then runs navigation commands in arrival order,
// skipping those a newer one already replaced.
func (c *Client) navigate(ctx context.Context) {
	defer c.workers.Done()
	if err := c.page.Start(ctx); err != nil {
		c.log.Warn("Page start failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.nav:
			c.navMu.Lock()
			stale := item.seq != c.navSeq
			c.navMu.Unlock()
			if !stale {
				c.dispatch(ctx, item.cmd)
			}
		}
	}
}

// composeLoop runs send and input commands in arrival order.
func (c *Client) composeLoop(ctx context.Context) {
	defer c.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.compose:
			c.dispatch(ctx, cmd)
		}
	}
}

// dispatch runs cmd. Failures already reach the client as error events.
func (c *Client) dispatch(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Type {
	case CmdOpen:
		err = c.page.Select(ctx, cmd.ConversationID)
	case CmdOlder:
		_, err = c.page.LoadOlder(ctx)
	case CmdClose:
		c.page.CloseConversation()
	case CmdSend:
		_, err = c.page.Send(ctx, cmd.Text)
	case CmdInput:
		c.page.Input(cmd.Text)
	case CmdStart:
		_, err = c.page.StartChat(ctx, cmd.PeerID)
	case CmdWidth:
		c.page.SetViewportWidth(cmd.Width)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("Command failed", "type", cmd.Type, "error", err)
	}
}

// writePump pumps frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ServeHTTP handles websocket requests from the peer.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := g.issuer.ValidateToken(auth.BearerToken(tokenString))
	if err != nil {
		g.log.Debug("Rejected websocket token", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	g.active.Add(1)
	defer g.active.Done()

	ctx, cancel := context.WithCancel(auth.WithClaims(r.Context(), claims))
	defer cancel()
	client := g.newClient(conn, claims.UserID, r.URL.Query().Get("chatId"), width)
	g.hub.Register(ctx, client)
	go client.writePump()
	go func() {
		<-client.done
		cancel()
	}()

	client.workers.Add(2)
	go client.navigate(ctx)
	go client.composeLoop(ctx)
	client.readPump(ctx)

	cancel()
	client.workers.Wait()
	client.page.Close()
	g.hub.Unregister(client)
	client.shutdown()
}

func (g *Gateway) newClient(conn *websocket.Conn, uid, chatID string, width int) *Client {
	id := uuid.NewString()
	c := &Client{
		ID:      id,
		UserID:  uid,
		conn:    conn,
		log:     g.log.With("connection_id", id),
		send:    make(chan []byte, g.config.SendBuffer),
		done:    make(chan struct{}),
		nav:     make(chan navCommand, commandBacklog),
		compose: make(chan Command, commandBacklog),
	}
	c.page = page.New(page.Config{
		UserID:        uid,
		InitialChatID: chatID,
		ViewportWidth: width,
		TypingIdle:    g.config.TypingIdle,
		List:          convlist.Config{WideThreshold: g.config.WideThreshold},
	}, page.Deps{
		Log:      g.backends.Log,
		Docs:     g.backends.Docs,
		Profiles: g.backends.Profiles,
		Logger:   c.log,
		Emitter:  c,
	})
	return c
}
