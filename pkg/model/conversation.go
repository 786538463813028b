package model

// Conversation is the shared metadata document of a two-party thread.
type Conversation struct {
	ID           string    `json:"-"`
	Participants [2]string `json:"-"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UpdatedAt    int64     `json:"updatedAt,omitempty"`
}

// Peer is the denormalized display snapshot of the other participant,
// stored on the owner's index entry. Typing is written by the peer.
type Peer struct {
	UID         string `json:"uid"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Typing      bool   `json:"typing,omitempty"`
}

// HasDisplay reports whether the snapshot carries anything renderable.
func (p *Peer) HasDisplay() bool {
	return p != nil && (p.Username != "" || p.DisplayName != "" || p.PhotoURL != "")
}

// IndexEntry is one row of a user's conversation list, keyed by peer uid.
type IndexEntry struct {
	PeerID      string   `json:"-"`
	ChatID      string   `json:"chatId"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UpdatedAt   int64    `json:"updatedAt,omitempty"`
	Other       *Peer    `json:"other,omitempty"`
}

// Profile is what the profile collaborator knows about a user.
type Profile struct {
	UID         string `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// AsPeer converts a profile into the snapshot kept on index entries.
func (p Profile) AsPeer() *Peer {
	return &Peer{
		UID:         p.UID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
	}
}
