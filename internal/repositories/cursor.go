package repositories

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"messaging-service/internal/models"
)

var ErrBadCursor = errors.New("malformed cursor")

// Cursor pins a position in the (created_at, id) message ordering. Pages are
// fetched strictly older than the cursor, so concurrent inserts never shift
// already-fetched pages.
type Cursor struct {
	CreatedAt time.Time
	ID        int
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	return fmt.Sprintf("%d.%d", c.CreatedAt.UnixNano(), c.ID)
}

// DecodeCursor parses a token previously produced by Encode.
func DecodeCursor(token string) (Cursor, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return Cursor{}, ErrBadCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, ErrBadCursor
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return Cursor{}, ErrBadCursor
	}
	return Cursor{CreatedAt: time.Unix(0, nanos), ID: id}, nil
}

// pageWindow turns a newest-first fetch of up to limit+1 rows into a
// chronological page. HasMore is true iff the raw fetch overshot the limit;
// the next cursor then points at the oldest row actually returned.
func pageWindow(rows []models.Message, limit int) models.MessagePage {
	var page models.MessagePage
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	if page.HasMore && len(rows) > 0 {
		oldest := rows[len(rows)-1]
		page.NextCursor = Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}.Encode()
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	page.Messages = rows
	return page
}
