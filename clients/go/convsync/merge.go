package convsync

// Item is one renderable row of the conversation timeline.
type Item struct {
	Message  Message
	ClientID string
	Pending  bool
	Failed   bool
}

// Merge combines server history with local outbox state into a single
// timeline. Server messages keep their order; an outbox entry whose client id
// already appears in the server view is represented by the server copy alone.
// Unconfirmed entries follow the history in enqueue order, flagged pending or
// failed. Merge is pure: calling it again with the same inputs yields the
// same timeline.
func Merge(server []Message, outbox []Entry) []Item {
	confirmed := map[string]bool{}
	for _, m := range server {
		if m.ClientID != nil {
			confirmed[*m.ClientID] = true
		}
	}

	items := make([]Item, 0, len(server)+len(outbox))
	for _, m := range server {
		item := Item{Message: m}
		if m.ClientID != nil {
			item.ClientID = *m.ClientID
		}
		items = append(items, item)
	}

	for _, e := range outbox {
		if confirmed[e.ClientID] {
			continue
		}
		if e.State == StateSent && e.Confirmed != nil {
			// Delivered but not yet visible in the polled page; show the
			// server echo so ids and timestamps are authoritative.
			items = append(items, Item{Message: *e.Confirmed, ClientID: e.ClientID})
			continue
		}
		clientID := e.ClientID
		items = append(items, Item{
			Message: Message{
				Content:       e.Content,
				AttachmentURL: e.AttachmentURL,
				ReplyToID:     e.ReplyToID,
				ClientID:      &clientID,
				CreatedAt:     e.EnqueuedAt,
			},
			ClientID: e.ClientID,
			Pending:  e.State == StateSending,
			Failed:   e.State == StateFailed,
		})
	}

	return items
}
