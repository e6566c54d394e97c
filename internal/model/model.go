// Package model defines the domain types used across the application.
package model

import "time"

// Status is the processing state of a notification in the ledger.
type Status string

// Notification processing states. Every record starts as pending and
// ends in exactly one of the terminal states.
const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusIgnored   Status = "ignored"
	StatusError     Status = "error"
)

// Author identifies the account that triggered a notification.
type Author struct {
	Handle      string `json:"handle"`
	DID         string `json:"did"`
	DisplayName string `json:"displayName,omitempty"`
}

// ThreadRef points at a post in a reply thread.
type ThreadRef struct {
	URI string `json:"uri"`
}

// Reply carries the thread position of a reply notification.
type Reply struct {
	Parent *ThreadRef `json:"parent,omitempty"`
	Root   *ThreadRef `json:"root,omitempty"`
}

// PostRecord is the content portion of a notification.
type PostRecord struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt,omitempty"`
	Reply     *Reply `json:"reply,omitempty"`
}

// Notification is the wire/queue-file shape of a single inbound event
// (mention, reply, quote) as delivered by the platform. The ledger
// extracts only the subset of fields it needs.
type Notification struct {
	URI       string      `json:"uri"`
	CID       string      `json:"cid,omitempty"`
	Author    *Author     `json:"author,omitempty"`
	Record    *PostRecord `json:"record,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	IndexedAt string      `json:"indexedAt,omitempty"`
	IsRead    bool        `json:"isRead,omitempty"`
}

// Valid reports whether the notification carries the one field nothing
// downstream can work without: a URI.
func (n *Notification) Valid() bool {
	return n != nil && n.URI != ""
}

// Handle returns the author handle, or empty if the author is absent.
func (n *Notification) Handle() string {
	if n == nil || n.Author == nil {
		return ""
	}
	return n.Author.Handle
}

// Text returns the post text, or empty if the record is absent.
func (n *Notification) Text() string {
	if n == nil || n.Record == nil {
		return ""
	}
	return n.Record.Text
}

// Record is a single ledger row: a notification's denormalized identity
// plus its processing state.
type Record struct {
	URI          string
	IndexedAt    string
	AuthorHandle string
	AuthorDID    string
	Text         string
	Reason       string
	Status       Status
	Error        string
	ProcessedAt  *time.Time
}

// LedgerStats is a point-in-time breakdown of ledger contents by status.
type LedgerStats struct {
	Total     int
	Pending   int
	Processed int
	Ignored   int
	Error     int
}

// Session tracks counters for a single polling run. Observability only,
// never consulted for correctness.
type Session struct {
	ID        int64
	StartedAt time.Time
	EndedAt   *time.Time
	Processed int
	Skipped   int
	Errors    int
}
