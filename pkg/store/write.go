package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the backend clock (unix ms) when a write is applied.
var ServerTimestamp any = serverTimestamp{}

// Fields is a partial document. Keys may be dotted paths into nested objects.
type Fields map[string]any

// Write targets one document. Replace overwrites the document instead of merging.
type Write struct {
	Path    string
	Fields  Fields
	Replace bool
}

// Apply merges w into the existing JSON document and returns the new document.
// now resolves ServerTimestamp placeholders.
func Apply(existing json.RawMessage, w Write, now int64) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(existing) > 0 && !w.Replace {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", w.Path, err)
		}
	}
	for name, value := range w.Fields {
		normalized, err := normalize(value, now)
		if err != nil {
			return nil, fmt.Errorf("field %s of %s: %w", name, w.Path, err)
		}
		set(doc, strings.Split(name, "."), normalized)
	}
	return json.Marshal(doc)
}

// normalize turns arbitrary Go values into their generic JSON shape so that
// nested dotted writes can later address their fields.
func normalize(value any, now int64) (any, error) {
	if _, ok := value.(serverTimestamp); ok {
		return now, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func set(doc map[string]any, path []string, value any) {
	if len(path) == 1 {
		if value == nil {
			delete(doc, path[0])
			return
		}
		doc[path[0]] = value
		return
	}
	child, ok := doc[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		doc[path[0]] = child
	}
	set(child, path[1:], value)
}

// DisconnectHooks registers writes a server applies when the client connection drops.
type DisconnectHooks interface {
	OnDisconnect(w Write)
}

// DisconnectQueue collects on-disconnect writes for one connection.
type DisconnectQueue struct {
	mu     sync.Mutex
	writes []Write
}

func (q *DisconnectQueue) OnDisconnect(w Write) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.writes = append(q.writes, w)
}

// Pending returns the writes registered so far and empties the queue.
func (q *DisconnectQueue) Pending() []Write {
	q.mu.Lock()
	defer q.mu.Unlock()
	writes := q.writes
	q.writes = nil
	return writes
}
