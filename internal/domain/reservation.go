package domain

import "time"

// ReservationStatus отражает состояние строки леджера.
type ReservationStatus string

const (
	// ReservationStatusReserved — единицы удерживаются под заказ.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusReleased — резерв снят, единицы вернулись в доступные.
	ReservationStatusReleased ReservationStatus = "released"
	// ReservationStatusConsumed — резерв превращён в окончательное списание.
	ReservationStatusConsumed ReservationStatus = "consumed"
	// ReservationStatusRestocked — списанные единицы возвращены на склад после возврата денег.
	ReservationStatusRestocked ReservationStatus = "restocked"
)

// ReservationToken выдаётся леджером при успешном резервировании.
type ReservationToken struct {
	ID        string
	OrderID   string
	ProductID string
	Qty       int32
}

// Reservation — строка леджера вместе со статусом.
type Reservation struct {
	ReservationToken
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockLevel — остаток товара глазами леджера.
type StockLevel struct {
	ProductID string
	OnHand    int32
	Reserved  int32
}

// Available — сколько единиц ещё можно зарезервировать.
func (l StockLevel) Available() int32 {
	return l.OnHand - l.Reserved
}
