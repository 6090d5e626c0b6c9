package chat

// fanout enqueues payload on every connection without blocking; a slow client
// only loses its own copy. Returns how many queues accepted it.
func fanout(conns []*Conn, payload []byte) int {
	n := 0
	for _, c := range conns {
		if c.Send(payload) {
			n++
		}
	}
	return n
}
