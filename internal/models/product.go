package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
)

// Value is a scraped cell: a string, a number, or null.
type Value struct {
	kind ValueKind
	str  string
	num  float64
}

func Null() Value               { return Value{} }
func String(s string) Value     { return Value{kind: KindString, str: s} }
func Number(n float64) Value    { return Value{kind: KindNumber, num: n} }
func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) Num() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Text renders the value for spreadsheet and log output.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(x)
	case float64:
		*v = Number(x)
	default:
		return fmt.Errorf("unsupported value type %T", raw)
	}
	return nil
}

// Record is one scraped table row. It is not mutated after extraction.
type Record map[string]Value

// Fields returns the record's keys in a stable order.
func (r Record) Fields() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r Record) Number(field string) (float64, bool) {
	v, ok := r[field]
	if !ok {
		return 0, false
	}
	return v.Num()
}

func (r Record) String(field string) string {
	if v, ok := r[field]; ok {
		return v.Text()
	}
	return ""
}

// With returns a copy of r with the extra fields set.
func (r Record) With(extra map[string]Value) Record {
	out := make(Record, len(r)+len(extra))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Columns is the union of fields across records, sorted.
func Columns(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Dimensions are product package sizes in centimetres.
type Dimensions struct {
	LengthCM float64 `json:"length_cm"`
	WidthCM  float64 `json:"width_cm"`
	HeightCM float64 `json:"height_cm"`
}

func (d Dimensions) Sum() float64 {
	return d.LengthCM + d.WidthCM + d.HeightCM
}

func (d Dimensions) LongestSide() float64 {
	longest := d.LengthCM
	if d.WidthCM > longest {
		longest = d.WidthCM
	}
	if d.HeightCM > longest {
		longest = d.HeightCM
	}
	return longest
}

// Product is the input of a shipping/profit estimate.
type Product struct {
	SKU          string     `json:"sku"`
	WeightKg     float64    `json:"weight_kg"`
	PriceRub     float64    `json:"price_rub"`
	PurchaseCost float64    `json:"purchase_cost"`
	Dimensions   Dimensions `json:"dimensions"`
}

func (p *Product) Validate() []string {
	var errors []string

	if p.WeightKg <= 0 {
		errors = append(errors, "weight must be positive")
	}
	if p.PriceRub < 0 {
		errors = append(errors, "price cannot be negative")
	}
	if p.PurchaseCost < 0 {
		errors = append(errors, "purchase cost cannot be negative")
	}

	return errors
}
