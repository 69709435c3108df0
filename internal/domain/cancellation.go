package domain

import "time"

// CancellationStatus — состояние задачи отмены авторизации у провайдера.
type CancellationStatus string

const (
	CancellationStatusPending CancellationStatus = "pending"
	CancellationStatusDone    CancellationStatus = "done"
	// CancellationStatusStuck — попытки исчерпаны, нужен оператор.
	CancellationStatusStuck CancellationStatus = "stuck"
)

// UpstreamCancellation — durable-задача отмены авторизации после отмены заказа.
type UpstreamCancellation struct {
	ID            string
	OrderID       string
	Handle        string
	Status        CancellationStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CancellationStats описывает backlog очереди отмен.
type CancellationStats struct {
	Pending int
	Stuck   int
}
