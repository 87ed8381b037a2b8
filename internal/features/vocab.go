package features

import "hash/fnv"

// HashSlot maps value into [0, slots) with 32-bit FNV-1a over its UTF-8 bytes.
func HashSlot(value string, slots int) int {
	if slots <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(value))
	return int(h.Sum32() % uint32(slots))
}

// #region vocabulary
// Vocabulary assigns categorical values to one-hot slots. Seeded values own
// slots 0..k-1; anything else hashes into the remaining slots. Slot positions
// never depend on the order values were observed, so a model trained on one
// replay scores consistently against another.
type Vocabulary struct {
	seeds  map[string]int
	order  []string
	counts map[string]int
}

// NewVocabulary builds a vocabulary seeded with the given values in order.
func NewVocabulary(seeds []string) *Vocabulary {
	v := &Vocabulary{
		seeds:  make(map[string]int, len(seeds)),
		counts: make(map[string]int),
	}
	for _, s := range seeds {
		if _, ok := v.seeds[s]; !ok {
			v.seeds[s] = len(v.seeds)
		}
	}
	return v
}

// Slot returns the one-hot position for value in a block of width slots.
func (v *Vocabulary) Slot(value string, width int) int {
	if width <= 0 {
		return 0
	}
	if i, ok := v.seeds[value]; ok && i < width {
		return i
	}
	tail := width - len(v.seeds)
	if tail <= 0 {
		return HashSlot(value, width)
	}
	return len(v.seeds) + HashSlot(value, tail)
}

// Observe records one occurrence of value.
func (v *Vocabulary) Observe(value string) {
	if _, ok := v.counts[value]; !ok {
		v.order = append(v.order, value)
	}
	v.counts[value]++
}

// Seen returns observed values in first-seen order.
func (v *Vocabulary) Seen() []string {
	return append([]string(nil), v.order...)
}

// Count returns how many times value was observed.
func (v *Vocabulary) Count(value string) int {
	return v.counts[value]
}

func (v *Vocabulary) clone() *Vocabulary {
	out := &Vocabulary{
		seeds:  v.seeds, // immutable after construction
		order:  append([]string(nil), v.order...),
		counts: make(map[string]int, len(v.counts)),
	}
	for k, n := range v.counts {
		out.counts[k] = n
	}
	return out
}
// #endregion vocabulary
