package salis

// Sender is the host-provided capability backing the SEND instruction. It
// is called with the byte a SEND organism chose to emit; the channel is
// non-blocking and at-most-once, so the host must return promptly.
type Sender func(b byte) bool

// Receiver is the host-provided capability backing the RECV instruction.
// It returns the next available byte and true, or false if none is
// available; a false result causes RECV to behave as NOP0.
type Receiver func() (byte, bool)
