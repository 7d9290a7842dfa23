package stock

import "fmt"

// RefKind says which catalog table a stock unit lives in.
type RefKind string

const (
	RefProduct RefKind = "product"
	RefVariant RefKind = "variant"
)

// UnitRef identifies a single purchasable stock unit: either a simple
// product (no variants) or one specific variant of a variable product.
// We use an explicit kind + id pair instead of the old "p_<id>" / "v_<id>"
// string prefixes, so a malformed reference is a compile-time impossibility.
type UnitRef struct {
	Kind RefKind `json:"kind"`
	ID   int64   `json:"id"`
}

// ProductRef builds a reference to a product without variants.
func ProductRef(id int64) UnitRef {
	return UnitRef{Kind: RefProduct, ID: id}
}

// VariantRef builds a reference to a product variant.
func VariantRef(id int64) UnitRef {
	return UnitRef{Kind: RefVariant, ID: id}
}

func (r UnitRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// IsZero reports whether the reference was never set.
func (r UnitRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}
