package channel

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// spinner animates a progress line while a turn is in flight. A nil
// spinner is a no-op.
type spinner struct {
	out  io.Writer
	done chan struct{}
	wg   sync.WaitGroup
}

func (s *spinner) start() {
	if s == nil || s.done != nil {
		return
	}
	s.done = make(chan struct{})
	s.wg.Add(1)
	go func(done <-chan struct{}) {
		defer s.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			case <-ticker.C:
				_, _ = fmt.Fprintf(s.out, "\r%c waiting for reply...", spinnerFrames[i%len(spinnerFrames)])
			}
		}
	}(s.done)
}

// stop returns once the animation goroutine has exited, so the caller may
// write to out afterwards.
func (s *spinner) stop() {
	if s == nil || s.done == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.done = nil
}
