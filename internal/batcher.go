package internal

// batcher accumulates notifications between two deliveries. Entries keep
// their arrival order. With coalescing enabled, a repeated path ORs its
// flags into the entry of its first occurrence.
type batcher struct {
	paths    []string
	flags    []Flag
	index    map[string]int
	coalesce bool
	max      int
}

func newBatcher(max int, coalesce bool) *batcher {
	b := batcher{
		max:      max,
		coalesce: coalesce,
	}
	b.reset()
	return &b
}

func (b *batcher) reset() {
	b.paths = make([]string, 0, 16)
	b.flags = make([]Flag, 0, 16)
	if b.coalesce {
		b.index = make(map[string]int)
	}
}

// add appends n and reports whether the batch reached its size limit.
func (b *batcher) add(n Notification) bool {
	if b.coalesce {
		if i, ok := b.index[n.Path]; ok {
			b.flags[i] |= n.Flags
			return b.full()
		}
		b.index[n.Path] = len(b.paths)
	}

	b.paths = append(b.paths, n.Path)
	b.flags = append(b.flags, n.Flags)
	return b.full()
}

func (b *batcher) full() bool {
	return b.max > 0 && len(b.paths) >= b.max
}

func (b *batcher) len() int { return len(b.paths) }

// take hands over the pending batch and starts a new one.
func (b *batcher) take() ([]string, []Flag) {
	paths, flags := b.paths, b.flags
	b.reset()
	return paths, flags
}
