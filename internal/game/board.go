// Package game implements the Battleship match: board geometry and the
// session state machine that mediates turns between two players and fans
// state out to spectators.
package game

import (
	"fmt"
	"math/rand"
	"strings"
)

// BoardSize is the grid dimension: rows A–J, columns 1–10.
const BoardSize = 10

// Cell markers, matching the classic text rendering.
const (
	cellWater byte = '.'
	cellShip  byte = 'S'
	cellHit   byte = 'X'
	cellMiss  byte = 'o'
)

// ShipSpec is one ship class of the fleet.
type ShipSpec struct {
	Name string
	Size int
}

// Fleet is the fixed set of ships every player places.
var Fleet = []ShipSpec{
	{"Carrier", 5},
	{"Battleship", 4},
	{"Cruiser", 3},
	{"Submarine", 3},
	{"Destroyer", 2},
}

// FireOutcome classifies the result of one shot.
type FireOutcome int

const (
	FireInvalid FireOutcome = iota // out of bounds
	FireRepeat                     // cell already revealed
	FireMiss
	FireHit
	FireSunk // hit that sank a whole ship
	FireWin  // hit that sank the last remaining ship
)

// placedShip tracks the remaining unhit cells of one placed ship.
type placedShip struct {
	name  string
	cells map[[2]int]bool
}

// Board is one player's grid. It has no locking: a board is owned exclusively
// by its game session goroutine.
type Board struct {
	hidden  [BoardSize][BoardSize]byte // real ship positions plus hits/misses
	display [BoardSize][BoardSize]byte // what the opponent and spectators see
	ships   []*placedShip
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	b := &Board{}
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			b.hidden[r][c] = cellWater
			b.display[r][c] = cellWater
		}
	}
	return b
}

// ParseCoordinate converts "B5" into zero-based (row, col).
func ParseCoordinate(s string) (int, int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("coordinate %q: need a letter followed by a number", s)
	}
	row := int(s[0] - 'A')
	if row < 0 || row >= BoardSize {
		return 0, 0, fmt.Errorf("coordinate %q: row must be A-%c", s, 'A'+BoardSize-1)
	}
	var col int
	if _, err := fmt.Sscanf(s[1:], "%d", &col); err != nil {
		return 0, 0, fmt.Errorf("coordinate %q: column is not a number", s)
	}
	col--
	if col < 0 || col >= BoardSize {
		return 0, 0, fmt.Errorf("coordinate %q: column must be 1-%d", s, BoardSize)
	}
	return row, col, nil
}

// FleetComplete reports whether every ship of the fleet has been placed.
func (b *Board) FleetComplete() bool {
	return len(b.ships) == len(Fleet)
}

// placed reports whether the named ship is already on the board.
func (b *Board) placed(name string) bool {
	for _, s := range b.ships {
		if s.name == name {
			return true
		}
	}
	return false
}

// canPlace checks bounds and overlap for a ship of the given size.
func (b *Board) canPlace(row, col, size int, horizontal bool) bool {
	if horizontal {
		if col+size > BoardSize {
			return false
		}
		for c := col; c < col+size; c++ {
			if b.hidden[row][c] != cellWater {
				return false
			}
		}
	} else {
		if row+size > BoardSize {
			return false
		}
		for r := row; r < row+size; r++ {
			if b.hidden[r][col] != cellWater {
				return false
			}
		}
	}
	return true
}

// PlaceShip places one named fleet ship at (row, col). The ship name is
// matched case-insensitively against Fleet.
func (b *Board) PlaceShip(name string, row, col int, horizontal bool) error {
	var spec *ShipSpec
	for i := range Fleet {
		if strings.EqualFold(Fleet[i].Name, name) {
			spec = &Fleet[i]
			break
		}
	}
	if spec == nil {
		return fmt.Errorf("unknown ship type %q", name)
	}
	if b.placed(spec.Name) {
		return fmt.Errorf("%s is already placed", spec.Name)
	}
	if row < 0 || row >= BoardSize || col < 0 || col >= BoardSize {
		return fmt.Errorf("starting cell out of bounds")
	}
	if !b.canPlace(row, col, spec.Size, horizontal) {
		return fmt.Errorf("%s does not fit there", spec.Name)
	}

	ship := &placedShip{name: spec.Name, cells: make(map[[2]int]bool, spec.Size)}
	if horizontal {
		for c := col; c < col+spec.Size; c++ {
			b.hidden[row][c] = cellShip
			ship.cells[[2]int{row, c}] = true
		}
	} else {
		for r := row; r < row+spec.Size; r++ {
			b.hidden[r][col] = cellShip
			ship.cells[[2]int{r, col}] = true
		}
	}
	b.ships = append(b.ships, ship)
	return nil
}

// PlaceRemainingRandomly places every not-yet-placed fleet ship at a random
// valid position. Used for "PLACE RANDOM" and for placement timeouts.
func (b *Board) PlaceRemainingRandomly(rng *rand.Rand) {
	for _, spec := range Fleet {
		if b.placed(spec.Name) {
			continue
		}
		for {
			horizontal := rng.Intn(2) == 0
			row := rng.Intn(BoardSize)
			col := rng.Intn(BoardSize)
			if b.canPlace(row, col, spec.Size, horizontal) {
				_ = b.PlaceShip(spec.Name, row, col, horizontal)
				break
			}
		}
	}
}

// FireAt resolves a shot against this board. A hit that empties a ship's
// cell set reports FireSunk, or FireWin when it was the last ship afloat.
func (b *Board) FireAt(row, col int) (FireOutcome, string) {
	if row < 0 || row >= BoardSize || col < 0 || col >= BoardSize {
		return FireInvalid, ""
	}
	switch b.hidden[row][col] {
	case cellShip:
		b.hidden[row][col] = cellHit
		b.display[row][col] = cellHit
		sunk := b.markHit(row, col)
		if sunk == "" {
			return FireHit, ""
		}
		if b.AllShipsSunk() {
			return FireWin, sunk
		}
		return FireSunk, sunk
	case cellWater:
		b.hidden[row][col] = cellMiss
		b.display[row][col] = cellMiss
		return FireMiss, ""
	default:
		return FireRepeat, ""
	}
}

// markHit removes (row, col) from its ship and returns the ship name when
// that ship has no cells left.
func (b *Board) markHit(row, col int) string {
	for _, ship := range b.ships {
		if ship.cells[[2]int{row, col}] {
			delete(ship.cells, [2]int{row, col})
			if len(ship.cells) == 0 {
				return ship.name
			}
			return ""
		}
	}
	return ""
}

// AllShipsSunk reports whether every placed ship has been fully hit.
func (b *Board) AllShipsSunk() bool {
	if len(b.ships) == 0 {
		return false
	}
	for _, ship := range b.ships {
		if len(ship.cells) > 0 {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Rendering — the server renders text grids, clients only print them.
// ---------------------------------------------------------------------------

func renderGrid(sb *strings.Builder, grid *[BoardSize][BoardSize]byte) {
	sb.WriteString("   ")
	for i := 1; i <= BoardSize; i++ {
		fmt.Fprintf(sb, "%3d", i)
	}
	sb.WriteByte('\n')
	for r := 0; r < BoardSize; r++ {
		fmt.Fprintf(sb, "%c  ", 'A'+r)
		for c := 0; c < BoardSize; c++ {
			fmt.Fprintf(sb, "%3c", grid[r][c])
		}
		sb.WriteByte('\n')
	}
}

// RenderOwn renders the player's own grid with ships visible.
func (b *Board) RenderOwn() string {
	var sb strings.Builder
	sb.WriteString("Your grid:\n")
	renderGrid(&sb, &b.hidden)
	return sb.String()
}

// RenderTracking renders the opponent view: hits and misses only.
func (b *Board) RenderTracking() string {
	var sb strings.Builder
	sb.WriteString("Opponent's grid:\n")
	renderGrid(&sb, &b.display)
	return sb.String()
}

// RenderDual renders both players' spectator views side by side (stacked),
// ships hidden on both.
func RenderDual(name1 string, b1 *Board, name2 string, b2 *Board) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s's board:\n", name1)
	renderGrid(&sb, &b1.display)
	fmt.Fprintf(&sb, "%s's board:\n", name2)
	renderGrid(&sb, &b2.display)
	return sb.String()
}
