package memory

import (
	"context"
	"sync"
)

// rowLock — эксклюзивная блокировка одной «строки» с поддержкой отмены через ctx.
type rowLock struct {
	ch   chan struct{}
	refs int
}

// lockTable выдаёт блокировки по ключам вида "product:<id>", "order:<id>".
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*rowLock)}
}

func (t *lockTable) lock(ctx context.Context, key string) error {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		t.dropRef(key, l)
		t.mu.Unlock()
		return ctx.Err()
	}
}

func (t *lockTable) unlock(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[key]
	if !ok {
		return
	}
	<-l.ch
	t.dropRef(key, l)
}

func (t *lockTable) dropRef(key string, l *rowLock) {
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

func productKey(id string) string  { return "product:" + id }
func orderKey(id string) string    { return "order:" + id }
func cartKey(userID string) string { return "cart:" + userID }
func idemKey(key string) string    { return "idem:" + key }
func eventKey(id string) string    { return "event:" + id }
func catalogKey(id string) string  { return "catalog:" + id }
