package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, 1)
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.ListMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.DELETE("/conversations/:conversation_id/messages/:message_id", handler.DeleteMessage)
	return r
}

func newMessageHandler(convRepo *mocks.ConversationRepositoryMock, msgRepo *mocks.MessageRepositoryMock, dir *mocks.DirectoryMock) *MessageHandler {
	return NewMessageHandler(convRepo, msgRepo, dir, presence.NewRegistry(time.Second), nil, zerolog.Nop())
}

func directDetail(id int, userIDs ...int) models.ConversationDetail {
	members := make([]models.Member, 0, len(userIDs))
	for _, uid := range userIDs {
		members = append(members, models.Member{ConversationID: id, UserID: uid})
	}
	return models.ConversationDetail{
		Conversation: models.Conversation{ID: id, Kind: models.KindDirect, CreatorID: userIDs[0]},
		Members:      members,
	}
}

func TestListMessagesSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	dir := new(mocks.DirectoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, dir))

	page := models.MessagePage{
		Messages: []models.Message{
			{ID: 1, ConversationID: 7, SenderID: 2, Content: "hi"},
			{ID: 2, ConversationID: 7, SenderID: 1, Content: "hello"},
		},
		HasMore: false,
	}
	convRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()
	msgRepo.On("Page", mock.Anything, 7, 50, (*repositories.Cursor)(nil)).Return(page, nil).Once()
	msgRepo.On("ResolveReplies", mock.Anything, page.Messages).Return(map[int]models.ReplyPreview{}, nil).Once()
	dir.On("BulkUsernames", mock.Anything, []int{2, 1}).Return(map[int]string{1: "alice", 2: "bob"}, nil).Once()
	convRepo.On("MarkRead", mock.Anything, 7, 1, mock.AnythingOfType("time.Time")).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/7/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []messageResponse `json:"messages"`
		HasMore  bool              `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "bob", resp.Messages[0].SenderUsername)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	dir.AssertExpectations(t)
}

func TestListMessagesOlderPageSkipsMarkRead(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	dir := new(mocks.DirectoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, dir))

	cursor := repositories.Cursor{CreatedAt: time.Unix(0, 1700000000000000000), ID: 42}
	convRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()
	msgRepo.On("Page", mock.Anything, 7, 50, &cursor).Return(models.MessagePage{}, nil).Once()
	msgRepo.On("ResolveReplies", mock.Anything, ([]models.Message)(nil)).Return(map[int]models.ReplyPreview{}, nil).Once()
	dir.On("BulkUsernames", mock.Anything, []int{}).Return(map[int]string{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/7/messages?cursor="+cursor.Encode(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convRepo.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestListMessagesBadCursor(t *testing.T) {
	router := setupMessageRouter(newMessageHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.DirectoryMock)))

	req := httptest.NewRequest(http.MethodGet, "/conversations/7/messages?cursor=garbage", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMessagesNotMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.DirectoryMock)))

	convRepo.On("IsMember", mock.Anything, 7, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/7/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestPostMessageSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	dir := new(mocks.DirectoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, dir))

	convRepo.On("GetDetail", mock.Anything, 7).Return(directDetail(7, 1, 2), nil).Once()
	msgRepo.On("Append", mock.Anything, mock.MatchedBy(func(p repositories.AppendParams) bool {
		return p.ConversationID == 7 && p.SenderID == 1 && p.Content == "hi"
	})).Return(models.Message{ID: 10, ConversationID: 7, SenderID: 1, Content: "hi"}, false, nil).Once()
	dir.On("BulkUsernames", mock.Anything, []int{1}).Return(map[int]string{1: "alice"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp messageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 10, resp.ID)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageDuplicateClientID(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	dir := new(mocks.DirectoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, dir))

	stored := models.Message{ID: 10, ConversationID: 7, SenderID: 1, Content: "hi"}
	convRepo.On("GetDetail", mock.Anything, 7).Return(directDetail(7, 1, 2), nil).Twice()
	msgRepo.On("Append", mock.Anything, mock.Anything).Return(stored, false, nil).Once()
	msgRepo.On("Append", mock.Anything, mock.Anything).Return(stored, true, nil).Once()
	dir.On("BulkUsernames", mock.Anything, []int{1}).Return(map[int]string{1: "alice"}, nil).Twice()

	body := `{"content":"hi","client_id":"retry-1"}`

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, second.Code)

	var firstMsg, secondMsg messageResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&firstMsg))
	require.NoError(t, json.NewDecoder(second.Body).Decode(&secondMsg))
	assert.Equal(t, firstMsg.ID, secondMsg.ID)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageEmpty(t *testing.T) {
	router := setupMessageRouter(newMessageHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.DirectoryMock)))

	req := httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(`{"content":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageTooLong(t *testing.T) {
	router := setupMessageRouter(newMessageHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.DirectoryMock)))

	body := fmt.Sprintf(`{"content":%q}`, strings.Repeat("a", maxMessageLength+1))
	req := httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageAttachmentOnly(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	dir := new(mocks.DirectoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, dir))

	convRepo.On("GetDetail", mock.Anything, 7).Return(directDetail(7, 1, 2), nil).Once()
	msgRepo.On("Append", mock.Anything, mock.MatchedBy(func(p repositories.AppendParams) bool {
		return p.Content == "" && p.AttachmentURL == "https://cdn/x.png"
	})).Return(models.Message{ID: 11, ConversationID: 7, SenderID: 1, AttachmentURL: "https://cdn/x.png"}, false, nil).Once()
	dir.On("BulkUsernames", mock.Anything, []int{1}).Return(map[int]string{}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(`{"attachment_url":"https://cdn/x.png"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageReplyInDirect(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.DirectoryMock)))

	convRepo.On("GetDetail", mock.Anything, 7).Return(directDetail(7, 1, 2), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(`{"content":"hi","reply_to_id":3}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestPostMessageReplyAcrossConversations(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.DirectoryMock)))

	detail := models.ConversationDetail{
		Conversation: models.Conversation{ID: 7, Kind: models.KindGroup, CreatorID: 1},
		Members:      []models.Member{{UserID: 1}, {UserID: 2}},
	}
	convRepo.On("GetDetail", mock.Anything, 7).Return(detail, nil).Once()
	msgRepo.On("Get", mock.Anything, 3).Return(models.Message{ID: 3, ConversationID: 99}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(`{"content":"hi","reply_to_id":3}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageNotMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.DirectoryMock)))

	convRepo.On("GetDetail", mock.Anything, 7).Return(directDetail(7, 2, 3), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/7/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestDeleteMessageWrongSender(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.DirectoryMock)))

	convRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()
	msgRepo.On("Get", mock.Anything, 5).Return(models.Message{ID: 5, ConversationID: 7, SenderID: 2}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/7/messages/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestDeleteMessageSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(convRepo, msgRepo, new(mocks.DirectoryMock)))

	convRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()
	msgRepo.On("Get", mock.Anything, 5).Return(models.Message{ID: 5, ConversationID: 7, SenderID: 1}, nil).Once()
	msgRepo.On("Delete", mock.Anything, 5, 1).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/7/messages/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	msgRepo.AssertExpectations(t)
}
