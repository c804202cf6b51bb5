package costline

import "strings"

// Kind enumerates the cost-line type variants carried by factory
// receipt and shipment lines.
type Kind string

const (
	KindBomDefault      Kind = "BOM_DEFAULT"
	KindBomComponent    Kind = "BOM_COMPONENT"
	KindAbsorb          Kind = "ABSORB"
	KindMaterialMaster  Kind = "MATERIAL_MASTER"
	KindPlatingMaster   Kind = "PLATING_MASTER"
	KindAdjustment      Kind = "ADJUSTMENT"
	KindStoneLabor      Kind = "STONE_LABOR"
	KindVendorDelta     Kind = "VENDOR_DELTA"
	KindCustomVariation Kind = "CUSTOM_VARIATION"
	KindCostBasis       Kind = "COST_BASIS"
	KindMargins         Kind = "MARGINS"
	KindWarn            Kind = "WARN"
	KindOther           Kind = "OTHER"
)

// LineType is the typed form of the legacy string tag. Prefixed tags
// such as "BOM_COMPONENT:<id>" carry the id in Ref; unknown tags keep
// their raw text so String round-trips losslessly.
type LineType struct {
	Kind Kind   `json:"kind"`
	Ref  string `json:"ref,omitempty"`
	raw  string
}

// ParseLineType translates a legacy string tag into a LineType.
func ParseLineType(tag string) LineType {
	switch Kind(tag) {
	case KindBomDefault, KindPlatingMaster, KindAdjustment, KindStoneLabor,
		KindVendorDelta, KindCustomVariation, KindCostBasis, KindMargins, KindWarn:
		return LineType{Kind: Kind(tag), raw: tag}
	}
	for _, prefixed := range []Kind{KindBomComponent, KindAbsorb, KindMaterialMaster} {
		prefix := string(prefixed) + ":"
		if strings.HasPrefix(tag, prefix) {
			return LineType{Kind: prefixed, Ref: strings.TrimPrefix(tag, prefix), raw: tag}
		}
	}
	return LineType{Kind: KindOther, raw: tag}
}

// String reproduces the legacy tag exactly as it was parsed.
func (t LineType) String() string {
	if t.raw != "" {
		return t.raw
	}
	switch t.Kind {
	case KindBomComponent, KindAbsorb, KindMaterialMaster:
		return string(t.Kind) + ":" + t.Ref
	case KindOther:
		return ""
	}
	return string(t.Kind)
}

// Item is one cost/labor line under classification.
type Item struct {
	Type  LineType          `json:"type"`
	Label string            `json:"label,omitempty"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// MetaSource returns the normalised meta.source value.
func (i Item) MetaSource() string {
	return strings.ToUpper(strings.TrimSpace(i.Meta["source"]))
}
