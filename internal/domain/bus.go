package domain

// Sink receives the outcome of a turn: exactly one of msg and err is non-nil.
type Sink func(msg *OutboundMessage, err error)
