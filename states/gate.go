package states

// gate is the busy flag of a state. The goroutine holding it may enter
// again, nesting its depth; every other goroutine must wait until the
// outermost call leaves. All methods require the state lock.
type gate struct {
	owner int64
	depth int
	busy  bool
}

// heldBy reports whether tid holds the gate.
func (g *gate) heldBy(tid int64) bool {
	return g.busy && g.owner == tid
}

// blocks reports whether tid has to wait before entering.
func (g *gate) blocks(tid int64) bool {
	return g.busy && g.owner != tid
}

func (g *gate) enter(tid int64) {
	g.busy = true
	g.owner = tid
	g.depth++
}

// leave exits one level and reports whether the gate became free.
func (g *gate) leave() bool {
	if g.depth == 0 {
		return false
	}
	g.depth--
	if g.depth > 0 {
		return false
	}
	g.busy = false
	g.owner = 0
	return true
}
