package costline

import "strings"

// pricingPolicyMetaSource marks lines injected by the pricing policy
// layer; they are regenerated on merge and never kept.
const pricingPolicyMetaSource = "PRICING_POLICY_META"

// IsBomReferenceType reports whether the type references a BOM line,
// either the default BOM or a specific component.
func IsBomReferenceType(t LineType) bool {
	return t.Kind == KindBomDefault || t.Kind == KindBomComponent
}

// IsMaterialMasterType reports whether the type references a material
// master line.
func IsMaterialMasterType(t LineType) bool {
	return t.Kind == KindMaterialMaster
}

// IsPlatingMasterType reports whether the type is the plating master line.
func IsPlatingMasterType(t LineType) bool {
	return t.Kind == KindPlatingMaster
}

// IsAdjustmentType reports whether the type is a manual adjustment line.
func IsAdjustmentType(t LineType) bool {
	return t.Kind == KindAdjustment
}

// IsAutoEvidence reports whether the line is automatically generated
// evidence rather than operator input. The label fallback catches
// evidence rows whose type tag was lost upstream.
func IsAutoEvidence(t LineType, label string) bool {
	switch t.Kind {
	case KindCostBasis, KindMargins, KindWarn:
		return true
	}
	upper := strings.ToUpper(label)
	return strings.Contains(upper, "COST_BASIS") ||
		strings.Contains(upper, "MARGIN") ||
		strings.Contains(upper, "WARN")
}

// IsCoreVisibleEtcItem reports whether a line belongs in the generic
// etc cost breakdown shown to an operator.
func IsCoreVisibleEtcItem(item Item) bool {
	if IsBomReferenceType(item.Type) {
		return false
	}
	switch item.Type.Kind {
	case KindStoneLabor, KindVendorDelta, KindCustomVariation:
		return false
	}
	return !IsAutoEvidence(item.Type, item.Label)
}

// IsEtcSummaryEligibleItem reports whether a line counts toward the
// etc summary total. Adjustments stay visible individually but are
// excluded from the sum to avoid double counting.
func IsEtcSummaryEligibleItem(item Item) bool {
	return IsCoreVisibleEtcItem(item) && !IsAdjustmentType(item.Type)
}

// ShouldKeepOnAutoMerge decides whether a line survives the merge of
// auto-managed extra-labor lines into canonical master/plating lines.
func ShouldKeepOnAutoMerge(item Item, isAutoManagedExtraLaborItem func(Item) bool) bool {
	if IsPlatingMasterType(item.Type) {
		return true
	}
	if item.MetaSource() == pricingPolicyMetaSource {
		return false
	}
	if isAutoManagedExtraLaborItem != nil && isAutoManagedExtraLaborItem(item) {
		return false
	}
	return true
}
