package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Grid is a 5x5 field, addressed row-major by cell index 0..24.
const (
	GridSize  = 5
	GridCells = GridSize * GridSize
)

// NoUnit marks a side whose unit has not been placed yet.
const NoUnit = -1

type CellState uint8

const (
	CellUnrevealed CellState = iota
	CellOccupied
	CellTargeted
	CellHit
	CellMiss
)

func (c CellState) String() string {
	switch c {
	case CellUnrevealed:
		return "unrevealed"
	case CellOccupied:
		return "occupied"
	case CellTargeted:
		return "targeted"
	case CellHit:
		return "hit"
	case CellMiss:
		return "miss"
	}
	return "unknown"
}

// rank orders cell states: a cell may only move to a higher rank.
func (c CellState) rank() int {
	switch c {
	case CellOccupied, CellTargeted:
		return 1
	case CellHit, CellMiss:
		return 2
	}
	return 0
}

type Grid [GridCells]CellState

// ValidCell reports whether idx addresses a cell of the grid.
func ValidCell(idx int) bool { return idx >= 0 && idx < GridCells }

// Resolved reports whether the cell has already been revealed as hit or miss.
func (g Grid) Resolved(idx int) bool {
	return ValidCell(idx) && g[idx].rank() == 2
}

// Unresolved lists cells that can still be shot at.
func (g Grid) Unresolved() []int {
	out := make([]int, 0, GridCells)
	for i := range g {
		if g[i].rank() < 2 {
			out = append(out, i)
		}
	}
	return out
}

func (g *Grid) advance(idx int, next CellState) bool {
	if !ValidCell(idx) || next.rank() <= g[idx].rank() {
		return false
	}
	g[idx] = next
	return true
}

// Bits flattens a grid holding a single unit into 0/1 cells, the layout the
// commitment tree is built over.
func Bits(unit int) []uint8 {
	out := make([]uint8, GridCells)
	if ValidCell(unit) {
		out[unit] = 1
	}
	return out
}

// RandomCell picks a cell uniformly, used to hide the opponent unit.
func RandomCell(rng *rand.Rand) int {
	return rng.IntN(GridCells)
}

// CellName renders idx as column letter + row number, e.g. 12 -> "C3".
func CellName(idx int) string {
	if !ValidCell(idx) {
		return "??"
	}
	return fmt.Sprintf("%c%d", 'A'+idx%GridSize, idx/GridSize+1)
}

var errBadCell = errors.New("cell out of range")

// ParseCell accepts "C3" style coordinates or a bare 0-based index.
func ParseCell(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, errBadCell
	}
	if n, err := strconv.Atoi(s); err == nil {
		if !ValidCell(n) {
			return 0, errBadCell
		}
		return n, nil
	}
	if len(s) < 2 {
		return 0, errBadCell
	}
	col := int(s[0] - 'A')
	row, err := strconv.Atoi(s[1:])
	if err != nil || col < 0 || col >= GridSize || row < 1 || row > GridSize {
		return 0, errBadCell
	}
	return (row-1)*GridSize + col, nil
}
