package ccd

// arena is a generational slot allocator. Slots are reused after removal but
// each reuse bumps the slot's generation, so a stale (index, generation) pair
// can never alias a newer occupant.
type arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	count int
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

func (a *arena[T]) insert(value T) (uint32, uint32) {
	a.count++
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[index]
		slot.value = value
		slot.occupied = true
		return index, slot.generation
	}
	a.slots = append(a.slots, arenaSlot[T]{value: value, generation: 1, occupied: true})
	return uint32(len(a.slots) - 1), 1
}

func (a *arena[T]) get(index, generation uint32) *T {
	if index >= uint32(len(a.slots)) {
		return nil
	}
	slot := &a.slots[index]
	if !slot.occupied || slot.generation != generation {
		return nil
	}
	return &slot.value
}

func (a *arena[T]) remove(index, generation uint32) (T, bool) {
	var zero T
	if index >= uint32(len(a.slots)) {
		return zero, false
	}
	slot := &a.slots[index]
	if !slot.occupied || slot.generation != generation {
		return zero, false
	}
	value := slot.value
	slot.value = zero
	slot.occupied = false
	slot.generation++
	a.free = append(a.free, index)
	a.count--
	return value, true
}

func (a *arena[T]) len() int {
	return a.count
}
