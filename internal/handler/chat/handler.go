package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/internal/middleware"
	chatService "github.com/ezchat/realtime/backend/internal/service/chat"
	"github.com/ezchat/realtime/backend/pkg/utils"
)

// Handler 聊天存储服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterPublicRoutes 注册无需身份的路由
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/users", h.handleCreateUser)
}

// RegisterRoutes 注册需要身份的路由，调用方负责挂载 middleware.Auth
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/{userID}", h.handleGetUser)
	r.Put("/users/me/channel", h.handleSetChannel)
	r.Post("/friends", h.handleAddFriend)
	r.Get("/friends", h.handleListFriends)
	r.Get("/contacts", h.handleListContacts)

	r.Post("/messages", h.handleSendMessage)
	r.Get("/messages", h.handleGetMessages)
	r.Post("/messages/read", h.handleMarkRead)
	r.Get("/messages/unread", h.handleUnreadCount)
	r.Post("/messages/{messageID}/unsend", h.handleUnsend)
	r.Post("/messages/{messageID}/delete", h.handleDelete)
}

// handleSendMessage 保存消息并返回存储分配的ID
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chatSvc.SendMessage(r.Context(), middleware.UserID(r.Context()), payload.ReceiverID, payload.Content)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

// handleGetMessages 获取与好友的聊天记录
func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	friendID := r.URL.Query().Get("friendId")
	if friendID == "" {
		utils.RespondError(w, http.StatusBadRequest, "friendId query parameter is required")
		return
	}

	msgs, err := h.chatSvc.GetMessages(r.Context(), middleware.UserID(r.Context()), friendID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msgs)
}

// handleMarkRead 将好友发来的消息标记为已读
func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FriendID string `json:"friendId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.chatSvc.MarkRead(r.Context(), middleware.UserID(r.Context()), payload.FriendID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	friendID := r.URL.Query().Get("friendId")
	if friendID == "" {
		utils.RespondError(w, http.StatusBadRequest, "friendId query parameter is required")
		return
	}

	n, err := h.chatSvc.UnreadCount(r.Context(), middleware.UserID(r.Context()), friendID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

// handleUnsend 撤回消息（仅发送者）
func (h *Handler) handleUnsend(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	msg, err := h.chatSvc.UnsendMessage(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

// handleDelete 仅对自己删除消息
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	msg, err := h.chatSvc.DeleteMessage(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

func messageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || id <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}

// respondServiceError 将服务层错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chatService.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, chatService.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chatService.ErrUserNotFound), errors.Is(err, chatService.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chatService.ErrChannelTaken), errors.Is(err, chatService.ErrAlreadyExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("component", "chat").Error("request failed")
		utils.RespondError(w, status, "internal error")
		return
	}
	utils.RespondError(w, status, err.Error())
}
