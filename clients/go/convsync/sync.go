package convsync

import (
	"context"
	"sync"
	"time"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultTypingInterval = 1500 * time.Millisecond
)

// Snapshot is the synced view of one conversation at a point in time.
type Snapshot struct {
	ConversationID int
	Items          []Item
	Typing         []int
	Err            error
}

// Syncer keeps one conversation's timeline current by polling. Switching
// conversations invalidates responses still in flight for the old one.
type Syncer struct {
	client *Client
	outbox *Outbox

	PollInterval   time.Duration
	TypingInterval time.Duration

	// OnUpdate receives a fresh snapshot after every successful poll and
	// every outbox transition. Called from the sync goroutine.
	OnUpdate func(Snapshot)

	mu             sync.Mutex
	conversationID int
	server         []Message
	typing         []int
}

// NewSyncer creates a Syncer for the given conversation.
func NewSyncer(client *Client, conversationID int) *Syncer {
	return &Syncer{
		client:         client,
		outbox:         NewOutbox(),
		PollInterval:   defaultPollInterval,
		TypingInterval: defaultTypingInterval,
		conversationID: conversationID,
	}
}

// Send enqueues a message for delivery and returns its client id. Delivery
// happens on the next flush.
func (s *Syncer) Send(content, attachmentURL string, replyToID *int) string {
	return s.outbox.Enqueue(content, attachmentURL, replyToID)
}

// Retry re-queues a failed send under its original client id.
func (s *Syncer) Retry(clientID string) bool {
	return s.outbox.Retry(clientID)
}

// SwitchConversation points the syncer at another conversation and clears
// the local view. In-flight responses for the old conversation are discarded
// when they land.
func (s *Syncer) SwitchConversation(conversationID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == conversationID {
		return
	}
	s.conversationID = conversationID
	s.server = nil
	s.typing = nil
	s.outbox = NewOutbox()
}

// Run polls until the context is cancelled. It flushes the outbox and
// fetches new messages on one cadence, and refreshes typing state on a
// faster one.
func (s *Syncer) Run(ctx context.Context) {
	poll := time.NewTicker(s.PollInterval)
	defer poll.Stop()
	typing := time.NewTicker(s.TypingInterval)
	defer typing.Stop()

	s.step(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.step(ctx)
		case <-typing.C:
			s.pollTyping(ctx)
		}
	}
}

func (s *Syncer) step(ctx context.Context) {
	s.flushOutbox(ctx)
	s.pollMessages(ctx)
}

func (s *Syncer) flushOutbox(ctx context.Context) {
	s.mu.Lock()
	conversationID := s.conversationID
	outbox := s.outbox
	s.mu.Unlock()

	for _, entry := range outbox.Sending() {
		clientID := entry.ClientID
		msg, err := s.client.SendMessage(ctx, conversationID, SendParams{
			Content:       entry.Content,
			AttachmentURL: entry.AttachmentURL,
			ReplyToID:     entry.ReplyToID,
			ClientID:      &clientID,
		})
		if err != nil {
			outbox.MarkFailed(clientID)
			continue
		}
		outbox.MarkSent(clientID, msg)
	}
	s.publish(nil)
}

func (s *Syncer) pollMessages(ctx context.Context) {
	s.mu.Lock()
	conversationID := s.conversationID
	outbox := s.outbox
	s.mu.Unlock()

	page, err := s.client.ListMessages(ctx, conversationID, "", 0)
	if err != nil {
		s.publish(err)
		return
	}

	s.mu.Lock()
	if s.conversationID != conversationID {
		// The view moved on while this response was in flight.
		s.mu.Unlock()
		return
	}
	s.server = page.Messages
	s.mu.Unlock()

	outbox.Compact(page.Messages)
	s.publish(nil)
}

func (s *Syncer) pollTyping(ctx context.Context) {
	s.mu.Lock()
	conversationID := s.conversationID
	s.mu.Unlock()

	typists, err := s.client.GetTyping(ctx, conversationID)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.conversationID != conversationID {
		s.mu.Unlock()
		return
	}
	s.typing = typists
	s.mu.Unlock()
	s.publish(nil)
}

func (s *Syncer) publish(err error) {
	if s.OnUpdate == nil {
		return
	}

	s.mu.Lock()
	snapshot := Snapshot{
		ConversationID: s.conversationID,
		Items:          Merge(s.server, s.outbox.Snapshot()),
		Typing:         s.typing,
		Err:            err,
	}
	s.mu.Unlock()

	s.OnUpdate(snapshot)
}
