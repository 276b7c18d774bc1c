package delivery

import "sync"

// pending counts background deliveries that were accepted but have not
// finished. idle is closed whenever the count is zero, so Flush can wait on
// it alongside a context and SendAsync may keep adding while others wait.
type pending struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newPending() *pending {
	idle := make(chan struct{})
	close(idle)
	return &pending{idle: idle}
}

// add reserves a slot unless limit deliveries are already pending.
func (p *pending) add(limit int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n >= limit {
		return false
	}
	if p.n == 0 {
		p.idle = make(chan struct{})
	}
	p.n++
	return true
}

func (p *pending) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n--
	if p.n == 0 {
		close(p.idle)
	}
}

// drained returns a channel closed once nothing accepted so far is pending.
func (p *pending) drained() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}
