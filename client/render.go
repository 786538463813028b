package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/olekukonko/tablewriter"
)

// Renderer prints gateway events for a terminal.
type Renderer struct {
	out  io.Writer
	self string

	mu            sync.Mutex
	conversations []model.ConversationItem
	active        string
	peer          string
}

func NewRenderer(out io.Writer, self string) *Renderer {
	return &Renderer{out: out, self: self}
}

func stamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.TimeOnly)
}

func (r *Renderer) line(msg model.Message) string {
	who := msg.SenderID
	if who == r.self {
		who = color.Cyan.Sprint("me")
	}
	return fmt.Sprintf("[%s] %s: %s", stamp(msg.CreatedAt), who, msg.Text)
}

// Render prints one event.
func (r *Renderer) Render(event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch event.Type {
	case model.EventList:
		r.conversations = event.Conversations
		r.table()
	case model.EventWindow:
		r.active, r.peer = event.ConversationID, event.PeerID
		title := event.Title
		if title == "" {
			title = event.ConversationID
		}
		fmt.Fprintln(r.out, color.Bold.Sprintf("== %s ==", title))
		if event.HasMore != nil && *event.HasMore {
			fmt.Fprintln(r.out, color.Gray.Sprint("(/older for earlier messages)"))
		}
		for _, msg := range event.Messages {
			fmt.Fprintln(r.out, r.line(msg))
		}
	case model.EventAppended:
		if event.Message != nil && event.ConversationID == r.active {
			fmt.Fprintln(r.out, r.line(*event.Message))
		}
	case model.EventPrepended:
		fmt.Fprintln(r.out, color.Gray.Sprintf("-- %d earlier messages --", len(event.Messages)))
		for _, msg := range event.Messages {
			fmt.Fprintln(r.out, r.line(msg))
		}
		if event.HasMore != nil && !*event.HasMore {
			fmt.Fprintln(r.out, color.Gray.Sprint("-- start of conversation --"))
		}
	case model.EventTyping:
		if event.Typing != nil && *event.Typing {
			fmt.Fprintln(r.out, color.Yellow.Sprintf("@%s is typing...", event.PeerID))
		}
	case model.EventPresence:
		if event.Presence == nil {
			fmt.Fprintln(r.out, color.Gray.Sprintf("@%s has never been seen", event.PeerID))
			return
		}
		if event.Presence.State == model.Online {
			fmt.Fprintln(r.out, color.Green.Sprintf("@%s is online", event.PeerID))
			return
		}
		fmt.Fprintln(r.out, color.Gray.Sprintf("@%s was last seen %s", event.PeerID, stamp(event.Presence.LastChanged)))
	case model.EventError:
		msg := color.Red.Sprintf("error (%s): %s", event.Kind, event.Error)
		if event.Retryable {
			msg += color.Gray.Sprint(" [retry]")
		}
		fmt.Fprintln(r.out, msg)
		if event.Text != "" {
			fmt.Fprintln(r.out, color.Gray.Sprintf("unsent: %s", event.Text))
		}
	case model.EventState:
		if event.State == "loading" {
			fmt.Fprintln(r.out, color.Gray.Sprint("loading..."))
		}
	}
}

// List prints the last known conversation list again.
func (r *Renderer) List() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table()
}

func (r *Renderer) table() {
	if len(r.conversations) == 0 {
		fmt.Fprintln(r.out, color.Gray.Sprint("no conversations yet, /dm <user> to start one"))
		return
	}
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"", "Name", "Chat", "Last message", "Updated"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	for _, c := range r.conversations {
		marker := ""
		if c.ChatID == r.active {
			marker = ">"
		}
		last := ""
		if c.LastMessage != nil {
			last = c.LastMessage.Text
		}
		if c.Typing {
			last = "typing..."
		}
		table.Append([]string{marker, c.Name, c.ChatID, last, stamp(c.UpdatedAt)})
	}
	table.Render()
}
