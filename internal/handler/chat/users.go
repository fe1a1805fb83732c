package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ezchat/realtime/backend/internal/middleware"
	"github.com/ezchat/realtime/backend/pkg/utils"
)

// handleCreateUser 注册用户
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.chatSvc.CreateUser(r.Context(), payload.Name, payload.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "me" {
		userID = middleware.UserID(r.Context())
	}

	profile, err := h.chatSvc.GetUser(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

// handleSetChannel 设置用户的频道ID（唯一）
func (h *Handler) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChannelID string `json:"channelId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.chatSvc.SetChannelID(r.Context(), middleware.UserID(r.Context()), payload.ChannelID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

// handleAddFriend 通过频道ID添加好友
func (h *Handler) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FriendChannelID string `json:"friendChannelId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	friend, err := h.chatSvc.AddFriend(r.Context(), middleware.UserID(r.Context()), payload.FriendChannelID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, friend)
}

func (h *Handler) handleListFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := h.chatSvc.ListFriends(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, friends)
}

// handleListContacts 好友以及给我发过消息的人
func (h *Handler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.chatSvc.ListContacts(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, contacts)
}
