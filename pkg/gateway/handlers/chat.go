package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
)

type chatRequest struct {
	Message   string           `json:"message"`
	ImageData string           `json:"image_data,omitempty"`
	History   []gemini.Message `json:"history,omitempty"`
}

type chatResponse struct {
	Text            string                  `json:"text"`
	FunctionResults []gemini.FunctionResult `json:"function_results,omitempty"`
}

// ChatHandler serves /api/chat and /api/chat/image.
type ChatHandler struct {
	Chat   *gemini.ChatService
	Logger *slog.Logger

	// WithImage selects the multimodal variant that requires image_data.
	WithImage bool
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("message is required", "message"))
		return
	}
	if h.WithImage && strings.TrimSpace(req.ImageData) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("image_data is required", "image_data"))
		return
	}

	var (
		result *gemini.ChatResult
		err    error
	)
	if h.WithImage {
		result, err = h.Chat.GenerateWithImage(r.Context(), req.Message, req.ImageData, req.History)
	} else {
		result, err = h.Chat.Generate(r.Context(), req.Message, req.History)
	}
	if err != nil {
		h.Logger.Error("chat generate failed", "with_image", h.WithImage, "error", err)
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Text:            result.Text,
		FunctionResults: result.FunctionResults,
	})
}
