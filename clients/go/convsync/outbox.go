package convsync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State tracks where an outbox entry is in its delivery lifecycle.
type State string

const (
	StateSending State = "sending"
	StateSent    State = "sent"
	StateFailed  State = "failed"
)

// Entry is one optimistic message awaiting server confirmation.
type Entry struct {
	ClientID      string
	Content       string
	AttachmentURL string
	ReplyToID     *int
	State         State
	EnqueuedAt    time.Time
	// Confirmed holds the server's echo once the entry reaches StateSent.
	Confirmed *Message
}

// Outbox holds locally enqueued messages and their delivery state. It is safe
// for concurrent use.
type Outbox struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

// Enqueue adds a message in the sending state and returns its client id.
func (o *Outbox) Enqueue(content, attachmentURL string, replyToID *int) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry := Entry{
		ClientID:      uuid.NewString(),
		Content:       content,
		AttachmentURL: attachmentURL,
		ReplyToID:     replyToID,
		State:         StateSending,
		EnqueuedAt:    o.now(),
	}
	o.entries = append(o.entries, entry)
	return entry.ClientID
}

// MarkSent records the server's echo for a delivered entry.
func (o *Outbox) MarkSent(clientID string, msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].ClientID == clientID {
			o.entries[i].State = StateSent
			o.entries[i].Confirmed = &msg
			return
		}
	}
}

// MarkFailed moves an entry to the failed state so the UI can offer a retry.
func (o *Outbox) MarkFailed(clientID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].ClientID == clientID {
			o.entries[i].State = StateFailed
			return
		}
	}
}

// Retry re-queues a failed entry under its original client id, so a delivery
// that actually reached the server the first time cannot duplicate.
func (o *Outbox) Retry(clientID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].ClientID == clientID && o.entries[i].State == StateFailed {
			o.entries[i].State = StateSending
			return true
		}
	}
	return false
}

// Sending returns entries currently awaiting delivery, oldest first.
func (o *Outbox) Sending() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Entry
	for _, e := range o.entries {
		if e.State == StateSending {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns every entry, oldest first.
func (o *Outbox) Snapshot() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// Compact drops entries already present in the given server view. Sent
// entries whose echo shows up in history no longer need local tracking.
func (o *Outbox) Compact(server []Message) {
	confirmed := map[string]bool{}
	for _, m := range server {
		if m.ClientID != nil {
			confirmed[*m.ClientID] = true
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.entries[:0]
	for _, e := range o.entries {
		if e.State == StateSent && confirmed[e.ClientID] {
			continue
		}
		kept = append(kept, e)
	}
	o.entries = kept
}
