package util

// A Gate bounds how many goroutines may be inside a section at once.
// Goroutines call Enter() before the section and Leave() when done.
type Gate chan struct{}

// NewGate returns a Gate admitting at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter blocks the calling goroutine until fewer than n goroutines are
// inside the gate, then claims a slot. Safe to call from many goroutines.
func (g Gate) Enter() {
	g <- struct{}{}
}

// Leave releases a slot. Every Enter must be balanced by a Leave, though
// not necessarily from the same goroutine.
func (g Gate) Leave() {
	<-g
}
