package domain

import (
	"context"
	"time"
)

// InventoryLedger — единственный источник правды о стоке. Все операции линеаризуемы по товару.
type InventoryLedger interface {
	// Reserve удерживает qty единиц товара или возвращает *InsufficientStockError.
	Reserve(ctx context.Context, orderID, productID string, qty int32) (ReservationToken, error)
	// Release снимает резерв. Повторный вызов и вызов после Consume ничего не меняют.
	Release(ctx context.Context, token ReservationToken) error
	// Consume превращает резерв в окончательное списание. Идемпотентен.
	Consume(ctx context.Context, token ReservationToken) error
	// Restock возвращает списанные единицы на склад. Идемпотентен.
	Restock(ctx context.Context, token ReservationToken) error
	// Level возвращает текущий остаток товара.
	Level(ctx context.Context, productID string) (StockLevel, error)
	// SetOnHand задаёт физический остаток (приёмка/инвентаризация).
	SetOnHand(ctx context.Context, productID string, onHand int32) error
	// Reservations возвращает строки леджера по заказу.
	Reservations(ctx context.Context, orderID string) ([]Reservation, error)
}

// Catalog хранит товары и их текущие цены.
type Catalog interface {
	Product(ctx context.Context, productID string) (Product, error)
	UpsertProduct(ctx context.Context, product Product) error
}

// CartRepository хранит изменяемые корзины.
type CartRepository interface {
	// Lines возвращает позиции корзины в порядке добавления.
	Lines(ctx context.Context, userID string) ([]CartLine, error)
	// AddItem добавляет товар; существующая позиция суммирует количество.
	AddItem(ctx context.Context, userID, productID string, qty int32, at time.Time) error
	// SetQuantity заменяет количество существующей позиции.
	SetQuantity(ctx context.Context, userID, productID string, qty int32) error
	RemoveItem(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. ErrOrderAlreadyExists при совпадении ID или ключа.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// GetByHandleForUpdate ищет заказ по handle авторизации с блокировкой.
	GetByHandleForUpdate(ctx context.Context, handle string) (Order, error)
	// GetByIdempotencyKey ищет заказ, созданный с данным ключом.
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	// LockIdempotencyKey сериализует CreateOrder с одинаковым ключом до конца транзакции.
	LockIdempotencyKey(ctx context.Context, key string) error
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// ListStale возвращает заказы в статусе, не менявшиеся с момента before.
	ListStale(ctx context.Context, status OrderStatus, before time.Time, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// ProcessedEventRepository — журнал обработанных событий шлюза.
type ProcessedEventRepository interface {
	// Claim записывает событие. false — событие уже было записано ранее.
	Claim(ctx context.Context, event ProcessedEvent) (bool, error)
	// Resolve фиксирует итог обработки.
	Resolve(ctx context.Context, eventID, orderID string, result EventResult) error
	Get(ctx context.Context, eventID string) (ProcessedEvent, error)
	// DeleteExpired удаляет записи с истёкшим сроком хранения.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// CancellationQueue — durable-очередь отмен авторизаций у провайдера.
type CancellationQueue interface {
	// Enqueue ставит задачу; повтор для того же handle ничего не меняет.
	Enqueue(ctx context.Context, job UpstreamCancellation) error
	// GetByHandle возвращает задачу по handle авторизации или ErrCancellationNotFound.
	GetByHandle(ctx context.Context, handle string) (UpstreamCancellation, error)
	// LeaseDue забирает готовые задачи и откладывает их на lease, чтобы их не взял другой воркер.
	LeaseDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]UpstreamCancellation, error)
	MarkDone(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkStuck(ctx context.Context, id string, attempts int, lastErr string) error
	Stats(ctx context.Context) (CancellationStats, error)
}

// Tx — набор репозиториев, работающих в одной транзакции.
type Tx interface {
	Inventory() InventoryLedger
	Catalog() Catalog
	Carts() CartRepository
	Orders() OrderRepository
	ProcessedEvents() ProcessedEventRepository
	Outbox() OutboxRepository
	Timeline() TimelineRepository
	Cancellations() CancellationQueue
}

// Store — хранилище. Методы Tx вне WithinTx выполняются в режиме autocommit.
type Store interface {
	Tx
	// WithinTx выполняет fn атомарно: ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
