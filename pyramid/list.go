package pyramid

import (
	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/policy"
)

// The pyramid keeps its tiles on an intrusive MRU->LRU list; head and
// tail are nil together. link and unlink leave p.len to their callers.

func (p *Pyramid) link(t *Tile) {
	t.prev, t.next = nil, p.head
	if p.head != nil {
		p.head.prev = t
	} else {
		p.tail = t
	}
	p.head = t
}

func (p *Pyramid) unlink(t *Tile) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		p.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		p.tail = t.prev
	}
	t.prev, t.next = nil, nil
}

func (p *Pyramid) insertFront(t *Tile) {
	p.link(t)
	p.len++
}

func (p *Pyramid) moveToFront(t *Tile) {
	if t != p.head {
		p.unlink(t)
		p.link(t)
	}
}

func (p *Pyramid) removeNode(t *Tile) {
	p.unlink(t)
	p.len--
}

// listHooks adapts the pyramid's list operations to policy.Hooks.
type listHooks struct{ p *Pyramid }

func (h listHooks) MoveToFront(x policy.Node[coord.ID]) { h.p.moveToFront(x.(*Tile)) }
func (h listHooks) PushFront(x policy.Node[coord.ID])   { h.p.insertFront(x.(*Tile)) }
func (h listHooks) Remove(x policy.Node[coord.ID])      { h.p.removeNode(x.(*Tile)) }
func (h listHooks) Len() int                            { return h.p.len }

func (h listHooks) Back() policy.Node[coord.ID] {
	if h.p.tail == nil {
		return nil
	}
	return h.p.tail
}
