package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/presence"
)

func setupTypingRouter(handler *TypingHandler, userID int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	r.POST("/conversations/:conversation_id/typing", handler.SetTyping)
	r.GET("/conversations/:conversation_id/typing", handler.GetTyping)
	return r
}

func TestTypingRoundTrip(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	registry := presence.NewRegistry(time.Minute)
	handler := NewTypingHandler(convRepo, registry)

	convRepo.On("IsMember", mock.Anything, 7, 2).Return(true, nil).Once()
	convRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()

	asPeer := setupTypingRouter(handler, 2)
	rec := httptest.NewRecorder()
	asPeer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/7/typing", bytes.NewBufferString(`{"is_typing":true}`)))
	require.Equal(t, http.StatusNoContent, rec.Code)

	asCaller := setupTypingRouter(handler, 1)
	rec = httptest.NewRecorder()
	asCaller.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/7/typing", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Typing []int `json:"typing"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []int{2}, resp.Typing)
	convRepo.AssertExpectations(t)
}

func TestTypingExcludesCaller(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	registry := presence.NewRegistry(time.Minute)
	handler := NewTypingHandler(convRepo, registry)
	router := setupTypingRouter(handler, 1)

	convRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Twice()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/7/typing", bytes.NewBufferString(`{"is_typing":true}`)))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/7/typing", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Typing []int `json:"typing"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Typing)
	convRepo.AssertExpectations(t)
}

func TestTypingNotMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewTypingHandler(convRepo, presence.NewRegistry(time.Minute))
	router := setupTypingRouter(handler, 1)

	convRepo.On("IsMember", mock.Anything, 7, 1).Return(false, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/7/typing", bytes.NewBufferString(`{"is_typing":true}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
	convRepo.AssertExpectations(t)
}
