package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ID identifies a product or cart line. The cart service emits numeric ids,
// so ID decodes from JSON numbers as well as strings.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Line is one product entry of a cart as confirmed by the cart service.
type Line struct {
	ID        ID              `json:"id" validate:"required"`
	ProductID ID              `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Subtotal is quantity times unit price.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an immutable view of a session's cart. Lines keep server order.
type Cart struct {
	SessionID    string
	Lines        []Line
	LastSyncedAt time.Time
}

func (c Cart) Total() decimal.Decimal {
	return Total(c.Lines)
}

func (c Cart) Count() int {
	return Count(c.Lines)
}

// Line looks up a line by id.
func (c Cart) Line(id ID) (Line, bool) {
	for _, line := range c.Lines {
		if line.ID == id {
			return line, true
		}
	}
	return Line{}, false
}

func (c Cart) clone() Cart {
	out := c
	out.Lines = cloneLines(c.Lines)
	return out
}

func cloneLines(lines []Line) []Line {
	if lines == nil {
		return []Line{}
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// Snapshot is the persisted form of a cart.
type Snapshot struct {
	SessionID string          `json:"session_id" validate:"required"`
	Lines     []Line          `json:"lines" validate:"dive"`
	Total     decimal.Decimal `json:"total"`
	SavedAt   time.Time       `json:"saved_at"`
}

// NewSnapshot captures the lines of c.
func NewSnapshot(c Cart, savedAt time.Time) *Snapshot {
	return &Snapshot{
		SessionID: c.SessionID,
		Lines:     cloneLines(c.Lines),
		Total:     Total(c.Lines),
		SavedAt:   savedAt.UTC(),
	}
}

// LineDetail is a line joined with its product for display.
type LineDetail struct {
	Line
	ProductName string
	Subtotal    decimal.Decimal
	// Missing is set when the product could not be resolved.
	Missing bool
}
