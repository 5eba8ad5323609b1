package receiver

// Notifier is a single-slot, coalescing wake-up signal: any number of
// Notify calls between two receives collapse into exactly one pending
// wake-up, the Go equivalent of tokio::sync::Notify's edge semantics.
type Notifier struct {
	c chan struct{}
}

// NewNotifier returns a ready-to-use Notifier.
func NewNotifier() *Notifier {
	return &Notifier{c: make(chan struct{}, 1)}
}

// Notify arms the notifier. Non-blocking: if a wake-up is already pending,
// this is a no-op.
func (n *Notifier) Notify() {
	select {
	case n.c <- struct{}{}:
	default:
	}
}

// C returns the channel a select statement waits on; a receive from it
// consumes the pending wake-up.
func (n *Notifier) C() <-chan struct{} {
	return n.c
}
