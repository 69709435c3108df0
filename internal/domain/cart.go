package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CartLine — позиция изменяемой корзины пользователя.
type CartLine struct {
	ProductID string
	Qty       int32
	AddedAt   time.Time
}

// Product — запись каталога с текущей ценой.
type Product struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Active bool
}

// SnapshotLine — строка неизменяемого снимка корзины.
type SnapshotLine struct {
	ProductID string
	Qty       int32
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Snapshot фиксирует корзину и цены на момент оформления. Наружу отдаются только копии.
type Snapshot struct {
	userID     string
	lines      []SnapshotLine
	capturedAt time.Time
}

// NewSnapshot собирает снимок; строки упорядочиваются по товару, дубликаты складываются.
func NewSnapshot(userID string, lines []SnapshotLine, capturedAt time.Time) Snapshot {
	merged := make(map[string]SnapshotLine, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		existing, ok := merged[line.ProductID]
		if !ok {
			order = append(order, line.ProductID)
			merged[line.ProductID] = line
			continue
		}
		existing.Qty += line.Qty
		existing.Subtotal = existing.UnitPrice.Mul(decimal.NewFromInt32(existing.Qty))
		merged[line.ProductID] = existing
	}
	sort.Strings(order)

	out := make([]SnapshotLine, 0, len(order))
	for _, productID := range order {
		out = append(out, merged[productID])
	}
	return Snapshot{userID: userID, lines: out, capturedAt: capturedAt}
}

// UserID возвращает владельца корзины.
func (s Snapshot) UserID() string { return s.userID }

// CapturedAt возвращает момент снятия снимка.
func (s Snapshot) CapturedAt() time.Time { return s.capturedAt }

// Lines возвращает копию строк.
func (s Snapshot) Lines() []SnapshotLine {
	return append([]SnapshotLine(nil), s.lines...)
}

// IsEmpty сообщает, что в снимке нет позиций.
func (s Snapshot) IsEmpty() bool { return len(s.lines) == 0 }

// Subtotal — сумма строк без налога и доставки.
func (s Snapshot) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// OrderLines превращает снимок в позиции заказа.
func (s Snapshot) OrderLines() []OrderLine {
	out := make([]OrderLine, 0, len(s.lines))
	for _, line := range s.lines {
		out = append(out, OrderLine{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		})
	}
	return out
}
