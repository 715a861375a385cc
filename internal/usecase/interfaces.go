package usecase

import (
	"github.com/nguyentranbao-ct/consult-live/internal/models"
)

// Notifier delivers one-shot notifications to the user.
type Notifier interface {
	Notify(n models.Notification)
}

type observers[T any] struct {
	next int
	fns  map[int]func(T)
}

func (o *observers[T]) add(fn func(T)) int {
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return id
}

func (o *observers[T]) remove(id int) {
	delete(o.fns, id)
}

// list returns the observers in registration order.
func (o *observers[T]) list() []func(T) {
	out := make([]func(T), 0, len(o.fns))
	for i := 0; i < o.next; i++ {
		if fn, ok := o.fns[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
