package chat

import "context"

// Handler serves one inbound frame type.
type Handler interface {
	Type() string
	// Handle returns an errs.CodeError for recoverable failures; any other
	// error is fatal for the connection.
	Handle(ctx context.Context, hc *Context, raw []byte) error
}

// Context is what a handler sees of the server and the calling connection.
type Context struct {
	S    *Server
	Conn *Conn
}
