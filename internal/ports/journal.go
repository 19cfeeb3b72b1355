package ports

// LogSink is an append-only textual audit trail. Writes are fire-and-forget
// from the caller's point of view: a failing sink must never abort trading logic.
type LogSink interface {
	Write(line, destination string) error
}
