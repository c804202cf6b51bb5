package costline

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func TestClassifyEndpoint(t *testing.T) {
	h := &Handler{Validate: validator.New()}

	payload := map[string]any{
		"items": []map[string]any{
			{"type": "BOM_COMPONENT:8842"},
			{"type": "ADJUSTMENT", "label": "manual tweak"},
			{"type": "EXTRA_LABOR", "label": "hand finishing", "meta": map[string]string{"source": "pricing_policy_meta"}},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shipments/cost-lines/classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Classify(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []Classification `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 3)

	bom := resp.Items[0]
	require.Equal(t, "BOM_COMPONENT:8842", bom.Type)
	require.Equal(t, "8842", bom.Ref)
	require.True(t, bom.BomReference)
	require.False(t, bom.CoreVisibleEtc)

	adj := resp.Items[1]
	require.True(t, adj.Adjustment)
	require.True(t, adj.CoreVisibleEtc)
	require.False(t, adj.EtcSummaryEligible)

	meta := resp.Items[2]
	require.False(t, meta.KeptOnAutoMerge)
	require.True(t, meta.CoreVisibleEtc)
}

func TestClassifyEndpointRejectsEmptyItems(t *testing.T) {
	h := &Handler{Validate: validator.New()}

	body, err := json.Marshal(map[string]any{"items": []map[string]any{}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shipments/cost-lines/classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Classify(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyEndpointRejectsMissingType(t *testing.T) {
	h := &Handler{Validate: validator.New()}

	body, err := json.Marshal(map[string]any{"items": []map[string]any{{"label": "no type"}}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shipments/cost-lines/classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Classify(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
