package engine

// Window is the inclusive block range one run scans.
type Window struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// NewWindow starts at the checkpoint and stops at the head or after maxRange
// blocks, whichever comes first. A head behind the checkpoint yields an empty
// window rather than a backwards one.
func NewWindow(checkpoint, head, maxRange uint64) Window {
	to := checkpoint + maxRange
	if to < checkpoint { // overflow
		to = ^uint64(0)
	}
	if head < to {
		to = head
	}
	if to < checkpoint {
		to = checkpoint
	}
	return Window{From: checkpoint, To: to}
}

// Empty reports whether there is nothing new to scan.
func (w Window) Empty() bool {
	return w.To == w.From
}
