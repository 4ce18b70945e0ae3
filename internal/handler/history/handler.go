package history

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mliang/classcast/backend/internal/store"
	"github.com/mliang/classcast/backend/pkg/utils"
)

// Handler 暴露翻译历史查询接口，仅在启用SQLite存储时注册
type Handler struct {
	store *store.Store
}

// New 创建历史查询处理器
func New(st *store.Store) *Handler {
	return &Handler{store: st}
}

// RegisterRoutes 注册历史查询路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/translations", h.listTranslations)
}

func (h *Handler) listTranslations(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "session id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	records, err := h.store.RecentTranslations(r.Context(), sessionID, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load translation history")
		return
	}
	if records == nil {
		records = []store.TranslationRecord{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"translations": records})
}
