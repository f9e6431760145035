package market

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/event"
)

// frame marks where an operation began so a failure can unwind exactly its
// own effects: the engine's undo journal, buffered notifications, and each
// rollback-capable collaborator. Frames nest; a re-entrant call unwinds
// only its own suffix, and an outer rollback discards inner commits too.
type frame struct {
	op      string
	journal int
	pending int
	collabs []int
}

func (e *Engine) begin(op string) frame {
	f := frame{
		op:      op,
		journal: len(e.journal),
		pending: len(e.pending),
		collabs: make([]int, len(e.snaps)),
	}
	for i, s := range e.snaps {
		f.collabs[i] = s.Snapshot()
	}
	e.depth++
	return f
}

// rollback restores everything recorded since the frame opened.
func (e *Engine) rollback(f frame) {
	for i := len(e.journal) - 1; i >= f.journal; i-- {
		e.journal[i]()
	}
	e.journal = e.journal[:f.journal]
	e.pending = e.pending[:f.pending]
	for i := len(e.snaps) - 1; i >= 0; i-- {
		e.snaps[i].RevertTo(f.collabs[i])
	}
	e.depth--
	e.logger.Debug("Operation rolled back", "op", f.op, "depth", e.depth)
}

// commit closes the frame. Inner frames leave their entries in place so an
// outer failure can still unwind them; the outermost commit makes all
// effects permanent, releases undo history, and flushes notifications in
// emission order.
func (e *Engine) commit(f frame) {
	e.depth--
	if e.depth > 0 {
		return
	}
	e.journal = e.journal[:0]
	for _, s := range e.snaps {
		if c, ok := s.(Compactor); ok {
			c.Compact()
		}
	}
	flushed := e.pending
	e.pending = nil
	for _, ev := range flushed {
		e.sink.Emit(ev)
	}
	e.logger.Debug("Operation committed", "op", f.op, "events", len(flushed))
}

// emit buffers a notification until the outermost frame commits. A rolled
// back operation therefore emits nothing.
func (e *Engine) emit(ev event.Event) {
	e.pending = append(e.pending, ev)
}

// allocateID hands out the next token identifier inside a frame, so a
// failed creation returns it.
func (e *Engine) allocateID() TokenID {
	prev := e.nextID
	e.nextID++
	id := e.nextID
	e.journal = append(e.journal, func() { e.nextID = prev })
	return id
}

func (e *Engine) setStage(id TokenID, stage uint64) {
	prev, had := e.stages[id]
	e.stages[id] = stage
	e.journal = append(e.journal, func() {
		if had {
			e.stages[id] = prev
		} else {
			delete(e.stages, id)
		}
	})
}

func (e *Engine) setStageMeta(id TokenID, stage uint64, meta string) {
	m, hadToken := e.stageMeta[id]
	if !hadToken {
		m = make(map[uint64]string)
		e.stageMeta[id] = m
	}
	prev, hadStage := m[stage]
	m[stage] = meta
	e.journal = append(e.journal, func() {
		if hadStage {
			m[stage] = prev
		} else {
			delete(m, stage)
		}
		if !hadToken {
			delete(e.stageMeta, id)
		}
	})
}

func (e *Engine) setCurrent(id TokenID, meta string) {
	prev, had := e.current[id]
	e.current[id] = meta
	e.journal = append(e.journal, func() {
		if had {
			e.current[id] = prev
		} else {
			delete(e.current, id)
		}
	})
}

// setPrice stores an owned copy; a zero price means not listed.
func (e *Engine) setPrice(id TokenID, price *uint256.Int) {
	prev, had := e.prices[id]
	e.prices[id] = new(uint256.Int).Set(price)
	e.journal = append(e.journal, func() {
		if had {
			e.prices[id] = prev
		} else {
			delete(e.prices, id)
		}
	})
}

// addRetained accrues forfeited overpayment to the engine's balance.
func (e *Engine) addRetained(amount *uint256.Int) error {
	if _, over := new(uint256.Int).AddOverflow(e.retained, amount); over {
		return fmt.Errorf("market: retained balance overflow adding %s", amount.Dec())
	}
	prev := new(uint256.Int).Set(e.retained)
	e.retained.Add(e.retained, amount)
	e.journal = append(e.journal, func() { e.retained.Set(prev) })
	return nil
}
