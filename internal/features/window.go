package features

// window holds timestamps inside a trailing span.
type window struct {
	span   float64
	maxLen int
	ts     []float64
}

func newWindow(span float64, maxLen int) window {
	return window{span: span, maxLen: maxLen}
}

func (w *window) add(ts float64) {
	w.ts = append(w.ts, ts)
	if len(w.ts) > w.maxLen {
		w.ts = w.ts[len(w.ts)-w.maxLen:]
	}
	w.prune(ts)
}

// prune drops entries that fell out of the span relative to now.
func (w *window) prune(now float64) {
	i := 0
	for i < len(w.ts) && now-w.ts[i] >= w.span {
		i++
	}
	if i > 0 {
		w.ts = append(w.ts[:0], w.ts[i:]...)
	}
}

// count returns entries with now-ts < span. It does not mutate the window.
func (w *window) count(now float64) int {
	n := 0
	for _, t := range w.ts {
		if now-t < w.span {
			n++
		}
	}
	return n
}

func (w window) clone() window {
	w.ts = append([]float64(nil), w.ts...)
	return w
}
