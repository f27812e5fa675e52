// Package messages はユーザー間メッセージのエンドポイントを提供します。
package messages

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/lyntro/internal/auth"
	"github.com/yourusername/lyntro/internal/config"
	"github.com/yourusername/lyntro/internal/store"
)

// MessageStore はメッセージ機能が必要とするストア操作です。
type MessageStore interface {
	SendMessage(ctx context.Context, senderID, receiverID int64, productID *int64, body string) error
	ConversationMessages(ctx context.Context, userID, otherUserID int64, productID *int64, page, perPage int) ([]store.Message, error)
	Conversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkConversationRead(ctx context.Context, userID, otherUserID int64) error
	DeleteMessage(ctx context.Context, messageID, userID int64) error
}

// Handler はメッセージ系エンドポイントのハンドラー集です。
type Handler struct {
	cfg      *config.Config
	messages MessageStore
	logger   *log.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(cfg *config.Config, messages MessageStore, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{cfg: cfg, messages: messages, logger: logger}
}

type sendRequest struct {
	ReceiverID int64  `json:"receiverId" binding:"required"`
	ProductID  *int64 `json:"productId"`
	Message    string `json:"message" binding:"required"`
}

// Send は POST /api/messages/send のハンドラーです。
func (h *Handler) Send(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "receiverId と message を JSON で送ってください",
		})
		return
	}

	body := strings.TrimSpace(req.Message)
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "メッセージ本文を入力してください",
		})
		return
	}
	if req.ReceiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "自分自身にメッセージは送れません",
		})
		return
	}

	if err := h.messages.SendMessage(c.Request.Context(), userID, req.ReceiverID, req.ProductID, body); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "宛先のユーザーまたは商品が見つかりません",
			})
			return
		}
		h.storeFailure(c, "failed to send message", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "メッセージを送信しました",
	})
}

// Conversations は GET /api/messages/conversations のハンドラーです。
func (h *Handler) Conversations(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	conversations, err := h.messages.Conversations(c.Request.Context(), userID)
	if err != nil {
		h.storeFailure(c, "failed to list conversations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"conversations": conversations,
	})
}

// Conversation は GET /api/messages/conversation のハンドラーです。
// 相手との会話を古い順で返し、未読メッセージを既読にします。
func (h *Handler) Conversation(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	otherID, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err != nil || otherID < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "userId を指定してください",
		})
		return
	}

	var productID *int64
	if raw := c.Query("productId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && id > 0 {
			productID = &id
		}
	}

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}

	msgs, err := h.messages.ConversationMessages(c.Request.Context(), userID, otherID, productID, page, h.cfg.MessagesPerPage)
	if err != nil {
		h.storeFailure(c, "failed to load conversation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"messages": msgs,
		"page":     page,
	})
}

// UnreadCount は GET /api/messages/unread_count のハンドラーです。
func (h *Handler) UnreadCount(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	count, err := h.messages.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.storeFailure(c, "failed to count unread messages", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"unreadCount": count,
	})
}

type markReadRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

// MarkRead は POST /api/messages/mark_read のハンドラーです。
func (h *Handler) MarkRead(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "userId を JSON で送ってください",
		})
		return
	}

	if err := h.messages.MarkConversationRead(c.Request.Context(), userID, req.UserID); err != nil {
		h.storeFailure(c, "failed to mark conversation read", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "既読にしました",
	})
}

type deleteRequest struct {
	MessageID int64 `json:"messageId" binding:"required"`
}

// Delete は POST /api/messages/delete のハンドラーです。
// 削除できるのは送信者か受信者本人のみです。
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "messageId を JSON で送ってください",
		})
		return
	}

	if err := h.messages.DeleteMessage(c.Request.Context(), req.MessageID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "メッセージが見つかりません",
			})
			return
		}
		h.storeFailure(c, "failed to delete message", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "メッセージを削除しました",
	})
}

func (h *Handler) storeFailure(c *gin.Context, msg string, err error) {
	h.logger.Printf("%s: %v", msg, err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"message": "処理に失敗しました。時間をおいて再度お試しください",
	})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
