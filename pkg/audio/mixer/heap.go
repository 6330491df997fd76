// Package mixer provides [Timeline], a software [audio.Output] that mixes
// buffers scheduled at absolute sample offsets. A sound card backend pulls
// rendered PCM from it in its device callback; tests and headless backends
// drive it directly.
package mixer

// voiceHeap implements [container/heap.Interface] as a min-heap ordered by
// start sample (ascending), with FIFO tie-breaking on seq (ascending).
type voiceHeap []*voice

func (h voiceHeap) Len() int { return len(h) }

// Less reports whether voice i starts before voice j.
func (h voiceHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h voiceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *voiceHeap) Push(x any) {
	*h = append(*h, x.(*voice))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *voiceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}
