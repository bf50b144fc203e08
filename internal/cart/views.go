package cart

import "github.com/shopspring/decimal"

// Total sums quantity times unit price over lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// Count sums quantities over lines.
func Count(lines []Line) int {
	count := 0
	for _, line := range lines {
		count += line.Quantity
	}
	return count
}

// quantitiesByProduct folds lines into per-product quantities.
func quantitiesByProduct(lines []Line) map[string]int {
	out := make(map[string]int, len(lines))
	for _, line := range lines {
		out[line.ProductID.String()] += line.Quantity
	}
	return out
}

// quantityDeltas reports, per product, how much more (positive) or less
// (negative) the new lines hold than the old ones.
func quantityDeltas(before, after []Line) map[string]int {
	deltas := quantitiesByProduct(after)
	for productID, qty := range quantitiesByProduct(before) {
		deltas[productID] -= qty
	}
	for productID, delta := range deltas {
		if delta == 0 {
			delete(deltas, productID)
		}
	}
	return deltas
}
