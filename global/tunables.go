package global

import "sync/atomic"

var tunables atomic.Pointer[Tunables]

func init() {
	t := DefaultTunables()
	tunables.Store(&t)
}

// Current returns the live tunables snapshot.
func Current() Tunables {
	return *tunables.Load()
}

// SetTunables swaps the live tunables; invalid values are rejected.
func SetTunables(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tunables.Store(&t)
	return nil
}
