package ccd

import (
	"iter"
	"math"
)

// EntryID identifies an entry stored in a SieveTree. IDs are slot indices:
// they are reused after removal, so they are only meaningful while the entry
// is alive.
type EntryID int

// Levels are powers of two: a cell at level l spans 2^l units per axis.
// The clamp keeps cell coordinates inside int64 range for any bounds a
// simulation can realistically produce.
const (
	sieveMinLevel = -32
	sieveMaxLevel = 31
)

// SieveBoundsFunc re-fetches the current bounds for a stored value. The tree
// does not trust its recorded bounds when rebalancing; co-resident entries
// may have drifted since they were stored.
type SieveBoundsFunc[T any] func(value T) BB

type cellCoord struct {
	x, y int64
}

type sieveEntry[T any] struct {
	value  T
	bounds BB
	level  int
	cell   cellCoord
	live   bool
}

// SieveTree is a sparse hierarchical bounding-volume grid. Each level is a
// sparse grid of cells twice as fine as the level above. New entries start
// in a coarse cell; when a cell exceeds the caller's element cap, entries
// small enough for the next finer level are sieved down, one level at a
// time, touching only the overcrowded cells.
//
// Both insert and query cost amortize better than a flat array for highly
// dynamic scenes: rebalancing is lazy and local, and queries visit only the
// cells a region can reach at each occupied level.
type SieveTree[T any] struct {
	entries []sieveEntry[T]
	free    []EntryID
	levels  map[int]map[cellCoord][]EntryID
	// top is the coarsest level in use; new entries start here so the
	// element cap can sieve them down.
	top    int
	hasTop bool
	count  int
}

// NewSieveTree returns an empty tree.
func NewSieveTree[T any]() *SieveTree[T] {
	return &SieveTree[T]{levels: make(map[int]map[cellCoord][]EntryID)}
}

// Count returns the number of entries currently stored.
func (tree *SieveTree[T]) Count() int {
	return tree.count
}

func cellSizeAt(level int) float64 {
	return math.Ldexp(1, level)
}

// naturalLevel returns the finest level whose cells can hold bounds.
func naturalLevel(bounds BB) int {
	ext := math.Max(bounds.R-bounds.L, bounds.T-bounds.B)
	if !(ext > 0) {
		return sieveMinLevel
	}
	level := int(math.Ceil(math.Log2(ext)))
	if level < sieveMinLevel {
		return sieveMinLevel
	}
	if level > sieveMaxLevel {
		return sieveMaxLevel
	}
	return level
}

// cellAt returns the cell whose origin corner contains the bounds' min
// corner at the given level.
func cellAt(level int, bounds BB) cellCoord {
	s := cellSizeAt(level)
	return cellCoord{
		x: int64(math.Floor(bounds.L / s)),
		y: int64(math.Floor(bounds.B / s)),
	}
}

// InsertAndBalance inserts a new entry and returns its id. If the entry's
// cell ends up holding more than maxElementsPerCell entries, the cell is
// subdivided: entries that fit a finer level move down, their current bounds
// re-fetched through siblingBounds.
func (tree *SieveTree[T]) InsertAndBalance(bounds BB, value T, maxElementsPerCell int, siblingBounds SieveBoundsFunc[T]) EntryID {
	level := naturalLevel(bounds)
	if tree.hasTop && tree.top > level {
		level = tree.top
	} else {
		tree.top = level
		tree.hasTop = true
	}

	id := tree.alloc(value, bounds)
	cell := cellAt(level, bounds)
	tree.place(id, level, cell)
	tree.count++
	tree.balance(level, cell, maxElementsPerCell, siblingBounds)
	return id
}

// UpdateAndBalance relocates an entry whose bounds changed. oldBounds is the
// bounds the caller last supplied for the entry; the tree locates the entry
// from its own records, which may have drifted finer than oldBounds if a
// neighbor's overflow re-leveled the entry through the bounds callback.
// Relocation may trigger a local merge (emptied cells are dropped) or split
// under the same overcrowding rule as insertion.
func (tree *SieveTree[T]) UpdateAndBalance(id EntryID, oldBounds, newBounds BB, maxElementsPerCell int, siblingBounds SieveBoundsFunc[T]) {
	entry := &tree.entries[id]
	assert(entry.live, "sieve tree: update of a removed entry")

	entry.bounds = newBounds
	size := cellSizeAt(entry.level)
	fits := newBounds.R-newBounds.L <= size && newBounds.T-newBounds.B <= size
	level := entry.level
	if !fits {
		// The entry grew past its cell; it needs a coarser level.
		level = naturalLevel(newBounds)
		if tree.top > level {
			level = tree.top
		} else {
			tree.top = level
		}
	}
	cell := cellAt(level, newBounds)
	if level == entry.level && cell == entry.cell {
		return
	}

	tree.unplace(id)
	tree.place(id, level, cell)
	tree.balance(level, cell, maxElementsPerCell, siblingBounds)
}

// Remove deletes an entry and returns its value. bounds is the entry's
// bounds as the caller last knew them; like UpdateAndBalance, the tree finds
// the entry through its own records, so rebalancing cannot strand it.
func (tree *SieveTree[T]) Remove(id EntryID, bounds BB) T {
	entry := &tree.entries[id]
	assert(entry.live, "sieve tree: remove of a removed entry")

	tree.unplace(id)
	value := entry.value
	var zero sieveEntry[T]
	*entry = zero
	tree.free = append(tree.free, id)
	tree.count--
	return value
}

// Intersections returns a lazy sequence of all entries whose bounds overlap
// query, as (id, value) pairs. The sequence is finite and can be iterated
// any number of times; each iteration observes the tree as of that
// iteration.
func (tree *SieveTree[T]) Intersections(query BB) iter.Seq2[EntryID, T] {
	return func(yield func(EntryID, T) bool) {
		for level, grid := range tree.levels {
			size := cellSizeAt(level)
			// An entry's min corner lies in its cell and its extent is at
			// most one cell, so overlapping entries live in cells whose
			// origin is within one cell size below the query region.
			x0 := math.Floor((query.L - size) / size)
			x1 := math.Floor(query.R / size)
			y0 := math.Floor((query.B - size) / size)
			y1 := math.Floor(query.T / size)

			if (x1-x0+1)*(y1-y0+1) > float64(len(grid)) {
				// The cell range is larger than the level's population;
				// walking the occupied cells is cheaper.
				for _, ids := range grid {
					if !tree.yieldMatches(ids, query, yield) {
						return
					}
				}
				continue
			}
			for x := int64(x0); x <= int64(x1); x++ {
				for y := int64(y0); y <= int64(y1); y++ {
					if !tree.yieldMatches(grid[cellCoord{x, y}], query, yield) {
						return
					}
				}
			}
		}
	}
}

func (tree *SieveTree[T]) yieldMatches(ids []EntryID, query BB, yield func(EntryID, T) bool) bool {
	for _, id := range ids {
		entry := &tree.entries[id]
		if entry.bounds.Intersects(query) {
			if !yield(id, entry.value) {
				return false
			}
		}
	}
	return true
}

func (tree *SieveTree[T]) alloc(value T, bounds BB) EntryID {
	if n := len(tree.free); n > 0 {
		id := tree.free[n-1]
		tree.free = tree.free[:n-1]
		tree.entries[id] = sieveEntry[T]{value: value, bounds: bounds, live: true}
		return id
	}
	tree.entries = append(tree.entries, sieveEntry[T]{value: value, bounds: bounds, live: true})
	return EntryID(len(tree.entries) - 1)
}

func (tree *SieveTree[T]) place(id EntryID, level int, cell cellCoord) {
	entry := &tree.entries[id]
	entry.level = level
	entry.cell = cell
	grid := tree.levels[level]
	if grid == nil {
		grid = make(map[cellCoord][]EntryID)
		tree.levels[level] = grid
	}
	grid[cell] = append(grid[cell], id)
}

func (tree *SieveTree[T]) unplace(id EntryID) {
	entry := &tree.entries[id]
	grid := tree.levels[entry.level]
	ids := grid[entry.cell]
	for i, other := range ids {
		if other == id {
			ids[i] = ids[len(ids)-1]
			ids = ids[:len(ids)-1]
			break
		}
	}
	if len(ids) == 0 {
		delete(grid, entry.cell)
		if len(grid) == 0 {
			delete(tree.levels, entry.level)
		}
	} else {
		grid[entry.cell] = ids
	}
}

// balance sieves overcrowded cells down to finer levels. Only cells that
// actually received entries are ever revisited, so the cost stays local to
// the touched region.
func (tree *SieveTree[T]) balance(level int, cell cellCoord, maxElementsPerCell int, siblingBounds SieveBoundsFunc[T]) {
	type cellRef struct {
		level int
		cell  cellCoord
	}
	work := []cellRef{{level, cell}}

	for len(work) > 0 {
		ref := work[len(work)-1]
		work = work[:len(work)-1]

		grid := tree.levels[ref.level]
		ids := grid[ref.cell]
		if len(ids) <= maxElementsPerCell || ref.level <= sieveMinLevel {
			continue
		}

		touched := make(map[cellCoord]bool)
		keep := ids[:0]
		for _, id := range ids {
			entry := &tree.entries[id]
			bounds := siblingBounds(entry.value)
			entry.bounds = bounds
			if naturalLevel(bounds) >= ref.level {
				keep = append(keep, id)
				continue
			}
			child := cellAt(ref.level-1, bounds)
			tree.place(id, ref.level-1, child)
			touched[child] = true
		}
		if len(keep) == 0 {
			delete(grid, ref.cell)
			if len(grid) == 0 {
				delete(tree.levels, ref.level)
			}
		} else {
			grid[ref.cell] = keep
		}

		for child := range touched {
			work = append(work, cellRef{ref.level - 1, child})
		}
	}
}
