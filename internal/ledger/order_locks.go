package ledger

import "sync"

// orderLocks hands out one mutex per order id and forgets it once nobody holds
// or waits for it.
type orderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[string]*orderLock)}
}

func (o *orderLocks) lock(orderID string) func() {
	o.mu.Lock()
	l, ok := o.locks[orderID]
	if !ok {
		l = &orderLock{}
		o.locks[orderID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, orderID)
		}
		o.mu.Unlock()
	}
}
