package audit

import (
	"net/http"
	"strconv"

	"github.com/seorin-works/backend-atelier/internal/common"
)

// Handler exposes the audit trail to back-office admins.
type Handler struct {
	Svc *Service
}

// List handles GET /admin/audit.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("per_page"))
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit
	entries, total, err := h.Svc.List(r.Context(), q.Get("entity_type"), limit, offset)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    limit,
			TotalItems: total,
		},
	})
}
