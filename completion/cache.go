// Package completion holds the pending callbacks and cached amount-due
// values for in-flight purchases, keyed by purchase identity.
//
// Every read is a remove: a callback can be taken out of the cache exactly
// once, which is what guarantees at-most-once delivery per transaction
// resolution even when the platform redelivers the same terminal state.
package completion

import (
	"sync"

	"github.com/corvomail/payments/model"
)

type SuccessFunc func(model.PurchaseOutcome)
type DeferredFunc func()
type ErrorFunc func(error)

// Cache serializes all map access through a single private worker goroutine,
// so callers never need external locking. Writes are fire-and-forget: the
// corresponding transaction event is guaranteed to arrive strictly after the
// write has been applied in order.
type Cache struct {
	ops chan func()

	amountDue map[model.PurchaseIdentity]int64
	success   map[model.PurchaseIdentity]SuccessFunc
	deferred  map[model.PurchaseIdentity]DeferredFunc
	errs      map[model.PurchaseIdentity]ErrorFunc

	// defaultOnError handles resolutions whose original requester is gone,
	// e.g. a transaction redelivered after relaunch. Never nil.
	defaultOnError ErrorFunc

	closeOnce sync.Once
	closed    chan struct{}
}

func NewCache(defaultOnError ErrorFunc) *Cache {
	if defaultOnError == nil {
		defaultOnError = func(error) {}
	}

	c := &Cache{
		ops:            make(chan func(), 64),
		amountDue:      map[model.PurchaseIdentity]int64{},
		success:        map[model.PurchaseIdentity]SuccessFunc{},
		deferred:       map[model.PurchaseIdentity]DeferredFunc{},
		errs:           map[model.PurchaseIdentity]ErrorFunc{},
		defaultOnError: defaultOnError,
		closed:         make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Cache) run() {
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.closed:
			return
		}
	}
}

func (c *Cache) submit(op func()) {
	select {
	case c.ops <- op:
	case <-c.closed:
	}
}

// submitAndWait runs op on the worker and blocks until it completed. Must not
// be called from inside a callback taken out of this cache.
func (c *Cache) submitAndWait(op func()) {
	done := make(chan struct{})
	c.submit(func() {
		op()
		close(done)
	})
	select {
	case <-done:
	case <-c.closed:
	}
}

func (c *Cache) SetAmountDue(key model.PurchaseIdentity, amount int64) {
	c.submit(func() {
		c.amountDue[key] = amount
	})
}

// SetCompletions registers the callbacks for one purchase attempt as a single
// atomic write, preserving the one-entry-per-identity invariant.
func (c *Cache) SetCompletions(key model.PurchaseIdentity, onSuccess SuccessFunc, onDeferred DeferredFunc, onError ErrorFunc) {
	c.submit(func() {
		if onSuccess != nil {
			c.success[key] = onSuccess
		}
		if onDeferred != nil {
			c.deferred[key] = onDeferred
		}
		if onError != nil {
			c.errs[key] = onError
		}
	})
}

// TakeAmountDue atomically removes and returns the cached amount due.
func (c *Cache) TakeAmountDue(key model.PurchaseIdentity) (int64, bool) {
	var (
		amount int64
		ok     bool
	)
	c.submitAndWait(func() {
		amount, ok = c.amountDue[key]
		delete(c.amountDue, key)
	})
	return amount, ok
}

// CallSuccess removes and invokes the success callback. It reports whether a
// callback was present; redeliveries after the first resolution find nothing
// and are silently absorbed.
func (c *Cache) CallSuccess(key model.PurchaseIdentity, outcome model.PurchaseOutcome) bool {
	var fn SuccessFunc
	c.submitAndWait(func() {
		fn = c.success[key]
		delete(c.success, key)
		delete(c.deferred, key)
		delete(c.errs, key)
		delete(c.amountDue, key)
	})

	if fn == nil {
		return false
	}
	fn(outcome)
	return true
}

// CallDeferred invokes the deferred callback without consuming the success or
// error callbacks: a deferred purchase is not terminal and may still resolve.
func (c *Cache) CallDeferred(key model.PurchaseIdentity) {
	var fn DeferredFunc
	c.submitAndWait(func() {
		fn = c.deferred[key]
		delete(c.deferred, key)
	})

	if fn != nil {
		fn()
	}
}

// CallError removes and invokes the error callback, falling back to the
// default handler when no entry exists so a failed transaction is never
// silently dropped.
func (c *Cache) CallError(key model.PurchaseIdentity, err error) {
	var fn ErrorFunc
	c.submitAndWait(func() {
		fn = c.errs[key]
		delete(c.errs, key)
		delete(c.success, key)
		delete(c.deferred, key)
		delete(c.amountDue, key)
	})

	if fn == nil {
		fn = c.defaultOnError
	}
	fn(err)
}

// HasCompletions reports whether a purchase attempt is still awaiting
// resolution for the given identity.
func (c *Cache) HasCompletions(key model.PurchaseIdentity) bool {
	var ok bool
	c.submitAndWait(func() {
		_, hasSuccess := c.success[key]
		_, hasError := c.errs[key]
		ok = hasSuccess || hasError
	})
	return ok
}

func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
