package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const SelectionSnapshotVersion = 1

type SelectionKind string

const (
	KindVariation SelectionKind = "variation"
	KindAddOn     SelectionKind = "addon"
)

// Selection is one captured variation or add-on choice.
type Selection interface {
	Kind() SelectionKind
	// Price is what the selection adds to one unit.
	Price() decimal.Decimal
}

type VariationSelection struct {
	Group      string          `json:"group"`
	Option     string          `json:"option"`
	PriceDelta decimal.Decimal `json:"priceDelta"`
}

func (VariationSelection) Kind() SelectionKind       { return KindVariation }
func (v VariationSelection) Price() decimal.Decimal { return v.PriceDelta }

type AddOnSelection struct {
	Name     string          `json:"name"`
	Unit     decimal.Decimal `json:"unit"`
	Quantity int             `json:"quantity"`
}

func (AddOnSelection) Kind() SelectionKind { return KindAddOn }
func (a AddOnSelection) Price() decimal.Decimal {
	return a.Unit.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// SelectionSnapshot freezes what the customer picked at purchase time.
type SelectionSnapshot struct {
	Version    int
	Selections []Selection
}

type taggedSelection struct {
	Kind SelectionKind   `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type snapshotWire struct {
	Version    int               `json:"version"`
	Selections []taggedSelection `json:"selections"`
}

func (s SelectionSnapshot) MarshalJSON() ([]byte, error) {
	w := snapshotWire{Version: SelectionSnapshotVersion, Selections: make([]taggedSelection, 0, len(s.Selections))}
	for _, sel := range s.Selections {
		data, err := json.Marshal(sel)
		if err != nil {
			return nil, err
		}
		w.Selections = append(w.Selections, taggedSelection{Kind: sel.Kind(), Data: data})
	}
	return json.Marshal(w)
}

func (s *SelectionSnapshot) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = SelectionSnapshot{Version: SelectionSnapshotVersion}
		return nil
	}
	var w snapshotWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decode selection snapshot: %w", err)
	}
	if w.Version > SelectionSnapshotVersion {
		return fmt.Errorf("selection snapshot version %d is newer than supported %d", w.Version, SelectionSnapshotVersion)
	}
	out := SelectionSnapshot{Version: SelectionSnapshotVersion}
	for i, t := range w.Selections {
		var sel Selection
		switch t.Kind {
		case KindVariation:
			var v VariationSelection
			if err := json.Unmarshal(t.Data, &v); err != nil {
				return fmt.Errorf("selection %d: %w", i, err)
			}
			sel = v
		case KindAddOn:
			var a AddOnSelection
			if err := json.Unmarshal(t.Data, &a); err != nil {
				return fmt.Errorf("selection %d: %w", i, err)
			}
			sel = a
		default:
			return fmt.Errorf("selection %d: unknown kind %q", i, t.Kind)
		}
		out.Selections = append(out.Selections, sel)
	}
	*s = out
	return nil
}

// UnitExtra is the per-unit amount the selections add to the base price.
func (s SelectionSnapshot) UnitExtra() decimal.Decimal {
	sum := decimal.Zero
	for _, sel := range s.Selections {
		sum = sum.Add(sel.Price())
	}
	return sum
}

func (s SelectionSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SelectionSnapshot) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = SelectionSnapshot{Version: SelectionSnapshotVersion}
		return nil
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	}
	return errors.New("selection snapshot: unsupported scan type")
}
