package fleet

import (
	"context"

	"fleettools/internal/event"
	"fleettools/internal/ids"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

// SendParams addresses one message to one or more pilots.
type SendParams struct {
	From        string
	To          []string
	Subject     string
	Body        string
	ThreadID    string
	Importance  types.Importance
	AckRequired bool
	SortieID    string
	MissionID   string
}

// SendMessage fans one message out to every recipient. When no thread is
// given, a fresh one is minted and recorded first so the reply chain has a
// stable id from its first message.
func (c *Coordinator) SendMessage(ctx context.Context, p SendParams) (*types.Message, error) {
	if p.Importance == "" {
		p.Importance = types.ImportanceNormal
	}
	if p.ThreadID == "" {
		p.ThreadID = ids.New(ids.PrefixThread)
		if _, err := c.store.AppendPayload(ctx, &event.ThreadCreated{
			ThreadID:  p.ThreadID,
			Subject:   p.Subject,
			CreatedBy: p.From,
		}); err != nil {
			return nil, err
		}
	}

	messageID := ids.New(ids.PrefixMessage)
	if _, err := c.store.AppendPayload(ctx, &event.MessageSent{
		MessageID:   messageID,
		From:        p.From,
		To:          p.To,
		Subject:     p.Subject,
		Body:        p.Body,
		ThreadID:    p.ThreadID,
		Importance:  p.Importance,
		AckRequired: p.AckRequired,
		SortieID:    p.SortieID,
		MissionID:   p.MissionID,
	}); err != nil {
		return nil, err
	}
	return c.store.GetMessage(ctx, messageID)
}

// MarkRead records that callsign has read the message. Repeat reads keep the
// first read time.
func (c *Coordinator) MarkRead(ctx context.Context, messageID, callsign string) (*types.Message, error) {
	if _, err := c.store.AppendPayload(ctx, &event.MessageRead{
		MessageID: messageID,
		Callsign:  callsign,
	}); err != nil {
		return nil, err
	}
	return c.store.GetMessage(ctx, messageID)
}

// MarkAcked records callsign's acknowledgement; an ack implies a read.
func (c *Coordinator) MarkAcked(ctx context.Context, messageID, callsign string) (*types.Message, error) {
	if _, err := c.store.AppendPayload(ctx, &event.MessageAcked{
		MessageID: messageID,
		Callsign:  callsign,
	}); err != nil {
		return nil, err
	}
	return c.store.GetMessage(ctx, messageID)
}

// InboxFilter narrows ListInbox.
type InboxFilter struct {
	UnreadOnly bool
	Since      types.Timestamp
	Limit      int
}

// ListInbox returns callsign's messages, newest first.
func (c *Coordinator) ListInbox(ctx context.Context, callsign string, f InboxFilter) ([]*types.InboxMessage, error) {
	msgs, err := c.store.Inbox(ctx, callsign, f.UnreadOnly, f.Limit)
	if err != nil {
		return nil, err
	}
	if f.Since == 0 {
		return msgs, nil
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if m.CreatedAt >= f.Since {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// GetMessage returns one message with its delivery state.
func (c *Coordinator) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	return c.store.GetMessage(ctx, messageID)
}

// GetThread returns one thread's header row.
func (c *Coordinator) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	return c.store.GetThread(ctx, threadID)
}

// ListThreads returns threads by recency of activity.
func (c *Coordinator) ListThreads(ctx context.Context, limit int) ([]*store.Thread, error) {
	return c.store.ListThreads(ctx, limit)
}

// ThreadMessages returns a thread's messages in send order.
func (c *Coordinator) ThreadMessages(ctx context.Context, threadID string) ([]*types.Message, error) {
	return c.store.ThreadMessages(ctx, threadID)
}
