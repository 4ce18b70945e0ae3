package language

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mliang/classcast/backend/internal/service/speech"
	"github.com/mliang/classcast/backend/pkg/utils"
)

// Handler 暴露可用翻译语言的查询接口
type Handler struct {
	catalog *speech.Catalog
}

// New 创建语言查询处理器
func New(catalog *speech.Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes 注册语言相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/languages", h.listLanguages)
}

type languageEntry struct {
	Code       string `json:"code"`
	Label      string `json:"label,omitempty"`
	VoiceCount int    `json:"voiceCount"`
}

func (h *Handler) listLanguages(w http.ResponseWriter, _ *http.Request) {
	entries := h.catalog.Entries()
	out := make([]languageEntry, 0, len(entries))
	for _, lang := range entries {
		out = append(out, languageEntry{
			Code:       lang.Code,
			Label:      lang.Label,
			VoiceCount: len(lang.Voices),
		})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"languages": out})
}
