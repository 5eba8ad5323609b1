package receiver

import "sync"

// Killpill is a broadcast, idempotent shutdown signal: any number of
// producers may call Send, every receiver observing C() sees it exactly
// once it closes.
type Killpill struct {
	once sync.Once
	c    chan struct{}
}

// NewKillpill returns an armed Killpill.
func NewKillpill() *Killpill {
	return &Killpill{c: make(chan struct{})}
}

// Send triggers shutdown. Safe to call more than once or from more than
// one goroutine.
func (k *Killpill) Send() {
	k.once.Do(func() { close(k.c) })
}

// C returns the channel that closes when Send has been called.
func (k *Killpill) C() <-chan struct{} {
	return k.c
}
