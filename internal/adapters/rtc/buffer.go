package rtc

import "github.com/pion/webrtc/v4"

// candidateBuffer queues remote candidates that arrive before the remote
// description is installed. Drained exactly once, in receipt order, right
// after the description lands; discarded whole on teardown.
type candidateBuffer struct {
	pending []webrtc.ICECandidateInit
}

func (b *candidateBuffer) push(ci webrtc.ICECandidateInit) {
	b.pending = append(b.pending, ci)
}

// drain applies all buffered candidates in order and clears the buffer. The
// first failure stops the drain; the rest are dropped with the buffer.
func (b *candidateBuffer) drain(apply func(webrtc.ICECandidateInit) error) error {
	pending := b.pending
	b.pending = nil
	for _, ci := range pending {
		if err := apply(ci); err != nil {
			return err
		}
	}
	return nil
}

func (b *candidateBuffer) clear() {
	b.pending = nil
}

func (b *candidateBuffer) len() int {
	return len(b.pending)
}
