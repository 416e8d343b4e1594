package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDuplicateMember      = errors.New("user already a member")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

// ConversationRepository abstracts conversation and read-state persistence.
type ConversationRepository interface {
	CreateOrGetDirect(ctx context.Context, userID int, peerID int) (models.Conversation, error)
	CreateGroup(ctx context.Context, creatorID int, name string, memberIDs []int) (models.ConversationDetail, error)
	GetDetail(ctx context.Context, conversationID int) (models.ConversationDetail, error)
	ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	IsMember(ctx context.Context, conversationID int, userID int) (bool, error)
	Rename(ctx context.Context, conversationID int, name string) error
	AddMembers(ctx context.Context, conversationID int, userIDs []int) error
	RemoveMember(ctx context.Context, conversationID int, userID int) error
	Delete(ctx context.Context, conversationID int) error
	MarkRead(ctx context.Context, conversationID int, userID int, at time.Time) error
	UnreadCount(ctx context.Context, conversationID int, userID int) (int, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, kind, name, creator_id, last_message, last_activity_at, created_at`

// directKey builds the order-independent lookup key for a direct pair.
func directKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// CreateOrGetDirect returns the direct conversation between two users,
// creating it on first request. The partial unique index on direct_key makes
// the insert race free: two concurrent first requests resolve to one row.
func (r *ConversationRepo) CreateOrGetDirect(ctx context.Context, userID int, peerID int) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, ErrSelfConversation
	}
	key := directKey(userID, peerID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (kind, creator_id, direct_key)
        VALUES ('direct', $1, $2)
        ON CONFLICT (direct_key) WHERE kind = 'direct' DO NOTHING
        RETURNING `+conversationColumns, userID, key).StructScan(&conv)
	if err == nil {
		for _, id := range []int{userID, peerID} {
			if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, role)
                VALUES ($1, $2, 'member')`, conv.ID, id); err != nil {
				return models.Conversation{}, err
			}
		}
	} else if errors.Is(err, sql.ErrNoRows) {
		// Lost the insert race or the pair already chatted; fetch the winner.
		err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+`
            FROM conversations WHERE kind = 'direct' AND direct_key = $1`, key)
		if err != nil {
			return models.Conversation{}, err
		}
	} else {
		return models.Conversation{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// CreateGroup creates a group conversation and its members atomically. The
// creator is always included and holds the admin role.
func (r *ConversationRepo) CreateGroup(ctx context.Context, creatorID int, name string, memberIDs []int) (models.ConversationDetail, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ConversationDetail{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (kind, name, creator_id)
        VALUES ('group', $1, $2) RETURNING `+conversationColumns, name, creatorID).StructScan(&conv); err != nil {
		return models.ConversationDetail{}, err
	}

	memberSet := map[int]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	detail := models.ConversationDetail{Conversation: conv}
	for id := range memberSet {
		role := models.RoleMember
		if id == creatorID {
			role = models.RoleAdmin
		}
		var member models.Member
		if err = tx.QueryRowxContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, role)
            VALUES ($1, $2, $3) RETURNING conversation_id, user_id, role, joined_at`, conv.ID, id, role).StructScan(&member); err != nil {
			return models.ConversationDetail{}, err
		}
		detail.Members = append(detail.Members, member)
	}

	if err = tx.Commit(); err != nil {
		return models.ConversationDetail{}, err
	}
	return detail, nil
}

// GetDetail fetches a conversation and its member list.
func (r *ConversationRepo) GetDetail(ctx context.Context, conversationID int) (models.ConversationDetail, error) {
	var detail models.ConversationDetail
	err := r.db.GetContext(ctx, &detail.Conversation, `SELECT `+conversationColumns+`
        FROM conversations WHERE id = $1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationDetail{}, ErrConversationNotFound
	}
	if err != nil {
		return models.ConversationDetail{}, err
	}

	err = r.db.SelectContext(ctx, &detail.Members, `SELECT conversation_id, user_id, role, joined_at
        FROM conversation_members WHERE conversation_id = $1 ORDER BY joined_at ASC, user_id ASC`, conversationID)
	return detail, err
}

// ListForUser returns the user's conversations newest-activity first, each
// carrying the user's unread count (messages from others newer than the
// user's last read mark).
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.kind, c.name, c.creator_id, c.last_message, c.last_activity_at, c.created_at,
            COALESCE(u.cnt, 0) AS unread_count
        FROM conversations c
        INNER JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1
        LEFT JOIN LATERAL (
            SELECT COUNT(*) AS cnt FROM messages m
            WHERE m.conversation_id = c.id
              AND m.sender_id <> $1
              AND m.created_at > COALESCE((SELECT r.last_read_at FROM conversation_reads r
                  WHERE r.conversation_id = c.id AND r.user_id = $1), 'epoch')
        ) u ON TRUE
        ORDER BY c.last_activity_at DESC, c.id DESC`
	var summaries []models.ConversationSummary
	err := r.db.SelectContext(ctx, &summaries, query, userID)
	return summaries, err
}

// IsMember checks current membership.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_members
        WHERE conversation_id = $1 AND user_id = $2)`, conversationID, userID)
	return exists, err
}

// Rename updates a conversation's name.
func (r *ConversationRepo) Rename(ctx context.Context, conversationID int, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET name = $2 WHERE id = $1`, conversationID, name)
	if err != nil {
		return err
	}
	return requireRow(res, ErrConversationNotFound)
}

// AddMembers inserts new members with the member role. Adding a user who is
// already present fails with ErrDuplicateMember and nothing is written.
func (r *ConversationRepo) AddMembers(ctx context.Context, conversationID int, userIDs []int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, id := range userIDs {
		res, execErr := tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, role)
            VALUES ($1, $2, 'member') ON CONFLICT (conversation_id, user_id) DO NOTHING`, conversationID, id)
		if execErr != nil {
			err = execErr
			return err
		}
		count, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return err
		}
		if count == 0 {
			err = ErrDuplicateMember
			return err
		}
	}

	return tx.Commit()
}

// RemoveMember deletes the membership row; the user loses any admin role with
// it. Creator protection is enforced by the caller, which owns the detail.
func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversation_members
        WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	return err
}

// Delete removes the conversation; messages, members and read marks cascade.
func (r *ConversationRepo) Delete(ctx context.Context, conversationID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrConversationNotFound)
}

// MarkRead advances the user's read mark. GREATEST keeps the stored value
// monotonic even if a stale timestamp arrives.
func (r *ConversationRepo) MarkRead(ctx context.Context, conversationID int, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_reads (conversation_id, user_id, last_read_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id, user_id)
        DO UPDATE SET last_read_at = GREATEST(conversation_reads.last_read_at, EXCLUDED.last_read_at)`,
		conversationID, userID, at)
	return err
}

// UnreadCount counts messages from other senders newer than the user's read
// mark; a user who has never read starts from the epoch.
func (r *ConversationRepo) UnreadCount(ctx context.Context, conversationID int, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        WHERE m.conversation_id = $1 AND m.sender_id <> $2
          AND m.created_at > COALESCE((SELECT last_read_at FROM conversation_reads
              WHERE conversation_id = $1 AND user_id = $2), 'epoch')`, conversationID, userID)
	return count, err
}

func requireRow(res sql.Result, missing error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return missing
	}
	return nil
}
