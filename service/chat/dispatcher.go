package chat

import (
	"fmt"
)

// Dispatcher is the explicit event-type -> handler table. It is filled once at
// startup and sealed before the first connection is served.
type Dispatcher struct {
	handlers map[string]Handler
	sealed   bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register panics on a duplicate type or after Seal; both are wiring bugs.
func (d *Dispatcher) Register(h Handler) {
	if d.sealed {
		panic(fmt.Sprintf("dispatcher sealed, cannot register %q", h.Type()))
	}
	if _, dup := d.handlers[h.Type()]; dup {
		panic(fmt.Sprintf("duplicate handler for type %q", h.Type()))
	}
	d.handlers[h.Type()] = h
}

func (d *Dispatcher) Seal() { d.sealed = true }

func (d *Dispatcher) GetHandler(t string) (Handler, bool) {
	h, ok := d.handlers[t]
	return h, ok
}

// Types lists the registered event types.
func (d *Dispatcher) Types() []string {
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}
