package pricing

import (
	"encoding/json"
	"math"
	"strconv"
)

// blockStrategy reads one candidate price field out of a pricing block.
// Strategies are tried in order; the first field that is present and
// parseable wins for that block.
type blockStrategy func(block map[string]interface{}) (float64, bool)

var blockStrategies = []blockStrategy{
	// min_price.price
	func(block map[string]interface{}) (float64, bool) {
		return numberAt(block, "min_price", "price")
	},
	// product_price_breakdown.gross_amount.value
	func(block map[string]interface{}) (float64, bool) {
		return numberAt(block, "product_price_breakdown", "gross_amount", "value")
	},
	// price_breakdown.gross_price
	func(block map[string]interface{}) (float64, bool) {
		return numberAt(block, "price_breakdown", "gross_price")
	},
}

// ExtractPrice finds the lowest nightly price in one raw get-rooms response
// body. The root may be a single object or an array whose first element is
// used. Returns the minimum across all pricing blocks, rounded to the
// nearest integer, and false when no block yields a parseable value.
func ExtractPrice(raw []byte) (int, bool) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, false
	}
	return ExtractPriceDoc(doc)
}

// ExtractPriceDoc is ExtractPrice over an already-decoded document.
func ExtractPriceDoc(doc interface{}) (int, bool) {
	if arr, ok := doc.([]interface{}); ok {
		if len(arr) == 0 {
			return 0, false
		}
		doc = arr[0]
	}
	root, ok := doc.(map[string]interface{})
	if !ok {
		return 0, false
	}
	blocks, _ := root["block"].([]interface{})

	min := math.Inf(1)
	found := false
	for _, b := range blocks {
		block, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		for _, strategy := range blockStrategies {
			v, ok := strategy(block)
			if !ok {
				continue
			}
			if v < min {
				min = v
			}
			found = true
			break
		}
	}
	if !found {
		return 0, false
	}
	return int(math.Round(min)), true
}

// numberAt walks nested objects along path and parses the leaf as a number.
// JSON numbers and numeric strings both count; anything else is a miss.
func numberAt(block map[string]interface{}, path ...string) (float64, bool) {
	var cur interface{} = block
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return 0, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return 0, false
		}
	}
	switch v := cur.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
