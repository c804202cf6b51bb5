package costline

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/seorin-works/backend-atelier/internal/common"
)

// Handler exposes the classifier over HTTP for the reconciliation UI.
// The legacy string tags cross the wire; typed variants stay internal.
type Handler struct {
	Validate *validator.Validate
}

type classifyItemPayload struct {
	Type  string            `json:"type" validate:"required"`
	Label string            `json:"label,omitempty"`
	Meta  map[string]string `json:"meta,omitempty"`
}

type classifyPayload struct {
	Items []classifyItemPayload `json:"items" validate:"required,min=1,dive"`
}

// Classification is the predicate vector for one line.
type Classification struct {
	Type               string `json:"type"`
	Kind               Kind   `json:"kind"`
	Ref                string `json:"ref,omitempty"`
	BomReference       bool   `json:"bom_reference"`
	MaterialMaster     bool   `json:"material_master"`
	PlatingMaster      bool   `json:"plating_master"`
	Adjustment         bool   `json:"adjustment"`
	AutoEvidence       bool   `json:"auto_evidence"`
	CoreVisibleEtc     bool   `json:"core_visible_etc"`
	EtcSummaryEligible bool   `json:"etc_summary_eligible"`
	KeptOnAutoMerge    bool   `json:"kept_on_auto_merge"`
}

// Classify handles POST /shipments/cost-lines/classify.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var payload classifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	results := make([]Classification, 0, len(payload.Items))
	for _, raw := range payload.Items {
		item := Item{
			Type:  ParseLineType(raw.Type),
			Label: raw.Label,
			Meta:  raw.Meta,
		}
		results = append(results, Classification{
			Type:               item.Type.String(),
			Kind:               item.Type.Kind,
			Ref:                item.Type.Ref,
			BomReference:       IsBomReferenceType(item.Type),
			MaterialMaster:     IsMaterialMasterType(item.Type),
			PlatingMaster:      IsPlatingMasterType(item.Type),
			Adjustment:         IsAdjustmentType(item.Type),
			AutoEvidence:       IsAutoEvidence(item.Type, item.Label),
			CoreVisibleEtc:     IsCoreVisibleEtcItem(item),
			EtcSummaryEligible: IsEtcSummaryEligibleItem(item),
			KeptOnAutoMerge:    ShouldKeepOnAutoMerge(item, nil),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"items": results})
}
