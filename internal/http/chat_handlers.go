package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatbot-api/internal/service"
)

type chatRequest struct {
	Message string `json:"message"`
}

type exportResponse struct {
	Location string `json:"location"`
	URL      string `json:"url"`
	Chats    int    `json:"chats"`
}

func (h *Handler) createChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	chat, err := h.chats.Send(c.Request.Context(), currentUser(c), req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chatToResponse(*chat))
}

func (h *Handler) listChats(c *gin.Context) {
	chats, err := h.chats.History(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]ChatResponse, len(chats))
	for i, chat := range chats {
		resp[i] = chatToResponse(chat)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) exportChats(c *gin.Context) {
	if h.exports == nil {
		h.writeError(c, service.ErrExportDisabled)
		return
	}

	export, err := h.exports.Export(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, exportResponse{
		Location: export.Location,
		URL:      export.URL,
		Chats:    export.Chats,
	})
}
