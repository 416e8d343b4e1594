package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// PreviewLength bounds the denormalized last-message preview on the
// conversation.
const PreviewLength = 100

// AppendParams carries everything needed to append one message.
type AppendParams struct {
	ConversationID int
	SenderID       int
	Content        string
	AttachmentURL  string
	ReplyToID      *int
	ClientID       *string
}

// MessageRepository defines durable access to conversation messages.
type MessageRepository interface {
	// Append stores the message and updates the owning conversation's
	// preview and activity timestamp in the same transaction. When the
	// (conversation, client id) pair already exists the original message is
	// returned with duplicate=true and nothing is written.
	Append(ctx context.Context, params AppendParams) (msg models.Message, duplicate bool, err error)
	Page(ctx context.Context, conversationID int, limit int, cursor *Cursor) (models.MessagePage, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	// Delete removes the message iff it belongs to the sender; a zero-row
	// result is reported as ErrMessageNotFound.
	Delete(ctx context.Context, messageID int, senderID int) error
	// Clear deletes every message in the conversation, resets the preview
	// and reports how many rows went away.
	Clear(ctx context.Context, conversationID int) (int, error)
	// ResolveReplies maps each referenced message id to a preview; ids whose
	// referent has been deleted map to an unavailable preview.
	ResolveReplies(ctx context.Context, msgs []models.Message) (map[int]models.ReplyPreview, error)
}

// MessageRepo is a sqlx-backed implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, attachment_url, reply_to_id, client_id, created_at`

// Append performs the idempotency-ledger insert: a single conditional write
// against the sparse unique (conversation_id, client_id) index, so two
// concurrent retries carrying the same key can never both insert.
func (r *MessageRepo) Append(ctx context.Context, params AppendParams) (models.Message, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var msg models.Message
	duplicate := false
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages
            (conversation_id, sender_id, content, attachment_url, reply_to_id, client_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (conversation_id, client_id) WHERE client_id IS NOT NULL DO NOTHING
        RETURNING `+messageColumns,
		params.ConversationID, params.SenderID, params.Content, params.AttachmentURL,
		params.ReplyToID, params.ClientID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		// A retry hit the ledger; hand back the original untouched.
		duplicate = true
		err = tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id = $1 AND client_id = $2`, params.ConversationID, params.ClientID)
	}
	if err != nil {
		return models.Message{}, false, err
	}

	if !duplicate {
		// Summary update rides the same transaction so the denormalized
		// fields can never drift from the message store.
		if _, err = tx.ExecContext(ctx, `UPDATE conversations
            SET last_message = $2, last_activity_at = GREATEST(last_activity_at, $3)
            WHERE id = $1`, params.ConversationID, previewOf(params.Content), msg.CreatedAt); err != nil {
			return models.Message{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, false, err
	}
	return msg, duplicate, nil
}

// Page returns up to limit messages strictly older than the cursor,
// chronological in the result.
func (r *MessageRepo) Page(ctx context.Context, conversationID int, limit int, cursor *Cursor) (models.MessagePage, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1`
	args := []interface{}{conversationID}
	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	var rows []models.Message
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return models.MessagePage{}, err
	}
	return pageWindow(rows, limit), nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Delete hard-deletes the sender's own message.
func (r *MessageRepo) Delete(ctx context.Context, messageID int, senderID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, messageID, senderID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrMessageNotFound)
}

// Clear wipes the conversation's messages and resets its preview.
func (r *MessageRepo) Clear(ctx context.Context, conversationID int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message = '' WHERE id = $1`, conversationID); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int(count), nil
}

// ResolveReplies loads the referenced messages in one query. Broken
// references are tolerated: a deleted referent yields Available=false.
func (r *MessageRepo) ResolveReplies(ctx context.Context, msgs []models.Message) (map[int]models.ReplyPreview, error) {
	ids := make([]int, 0)
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if m.ReplyToID == nil {
			continue
		}
		if _, ok := seen[*m.ReplyToID]; !ok {
			seen[*m.ReplyToID] = struct{}{}
			ids = append(ids, *m.ReplyToID)
		}
	}
	previews := make(map[int]models.ReplyPreview, len(ids))
	if len(ids) == 0 {
		return previews, nil
	}

	var referents []models.Message
	err := r.db.SelectContext(ctx, &referents, `SELECT `+messageColumns+` FROM messages
        WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	for _, ref := range referents {
		previews[ref.ID] = models.ReplyPreview{
			MessageID: ref.ID,
			SenderID:  ref.SenderID,
			Content:   previewOf(ref.Content),
			Available: true,
		}
	}
	for _, id := range ids {
		if _, ok := previews[id]; !ok {
			previews[id] = models.ReplyPreview{MessageID: id, Available: false}
		}
	}
	return previews, nil
}

// previewOf truncates message text for the conversation preview; image-only
// messages produce an empty preview.
func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength])
}
