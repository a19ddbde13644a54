package states

import "github.com/wippyai/mtstate/resource"

const (
	minBuckets     = 64
	loadFactor     = 4
	maxBucketUsage = 30
	shrinkFactor   = 10
)

type bucketEntry struct {
	id   uint64
	slot resource.Handle
}

// buckets indexes arena slots by id modulo the bucket count. It has no
// storage until the first insert and drops it again when emptied.
type buckets struct {
	lists [][]bucketEntry
	count int
	usage int
}

func (b *buckets) size() int { return len(b.lists) }

// needsGrow reports whether inserting one more entry should double the
// table first.
func (b *buckets) needsGrow() bool {
	return b.count+1 > loadFactor*len(b.lists) || b.usage > maxBucketUsage
}

// grow doubles the table, starting at minBuckets.
func (b *buckets) grow() {
	n := minBuckets
	if len(b.lists) > 0 {
		n = 2 * len(b.lists)
	}
	b.rehash(n)
}

func (b *buckets) insert(id uint64, slot resource.Handle) {
	if b.needsGrow() {
		b.grow()
	}
	b.place(bucketEntry{id: id, slot: slot})
	b.count++
}

func (b *buckets) place(e bucketEntry) {
	i := e.id % uint64(len(b.lists))
	b.lists[i] = append(b.lists[i], e)
	if n := len(b.lists[i]); n > b.usage {
		b.usage = n
	}
}

// remove deletes the entry and shrinks the table when it became sparse.
func (b *buckets) remove(id uint64, slot resource.Handle) bool {
	if len(b.lists) == 0 {
		return false
	}
	i := id % uint64(len(b.lists))
	list := b.lists[i]
	for j, e := range list {
		if e.slot == slot {
			list[j] = list[len(list)-1]
			b.lists[i] = list[:len(list)-1]
			b.count--
			b.shrink()
			return true
		}
	}
	return false
}

func (b *buckets) shrink() {
	switch {
	case b.count == 0:
		b.lists = nil
		b.usage = 0
	case b.count*shrinkFactor < len(b.lists) && 2*b.count > minBuckets:
		b.rehash(2 * b.count)
	}
}

func (b *buckets) rehash(n int) {
	old := b.lists
	b.lists = make([][]bucketEntry, n)
	b.usage = 0
	for _, list := range old {
		for _, e := range list {
			b.place(e)
		}
	}
}

// lookup returns the slots stored in the bucket of id.
func (b *buckets) lookup(id uint64) []bucketEntry {
	if len(b.lists) == 0 {
		return nil
	}
	return b.lists[id%uint64(len(b.lists))]
}

// each calls fn for every entry in bucket order.
func (b *buckets) each(fn func(bucketEntry)) {
	for _, list := range b.lists {
		for _, e := range list {
			fn(e)
		}
	}
}
