package game

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCoordinate(t *testing.T) {
	testCases := []struct {
		in       string
		row, col int
		wantErr  bool
	}{
		{"A1", 0, 0, false},
		{"J10", 9, 9, false},
		{"b5", 1, 4, false},
		{" D7 ", 3, 6, false},
		{"K1", 0, 0, true},  // row out of range
		{"A11", 0, 0, true}, // column out of range
		{"A0", 0, 0, true},
		{"5B", 0, 0, true},
		{"A", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tc := range testCases {
		row, col, err := ParseCoordinate(tc.in)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.row, row, "input %q", tc.in)
		require.Equal(t, tc.col, col, "input %q", tc.in)
	}
}

func TestPlaceShipValidation(t *testing.T) {
	b := NewBoard()

	require.NoError(t, b.PlaceShip("Carrier", 0, 0, true))

	// Same ship twice.
	require.Error(t, b.PlaceShip("carrier", 5, 0, true))

	// Unknown ship class.
	require.Error(t, b.PlaceShip("Canoe", 5, 0, true))

	// Overlapping the carrier on row A.
	require.Error(t, b.PlaceShip("Destroyer", 0, 3, true))

	// Out of bounds: size 4 starting at column 8.
	require.Error(t, b.PlaceShip("Battleship", 2, 7, true))
	require.Error(t, b.PlaceShip("Battleship", 7, 0, false))

	// A legal second placement still works after the rejections.
	require.NoError(t, b.PlaceShip("Destroyer", 2, 0, false))
}

func TestFleetComplete(t *testing.T) {
	b := NewBoard()
	require.False(t, b.FleetComplete())

	for i, spec := range Fleet {
		require.NoError(t, b.PlaceShip(spec.Name, i*2, 0, true))
	}
	require.True(t, b.FleetComplete())
}

func TestPlaceRemainingRandomly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	b := NewBoard()
	require.NoError(t, b.PlaceShip("Carrier", 0, 0, true))
	b.PlaceRemainingRandomly(rng)
	require.True(t, b.FleetComplete())

	// Total occupied cells must equal the fleet's total size.
	total := 0
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			if b.hidden[r][c] == cellShip {
				total++
			}
		}
	}
	want := 0
	for _, spec := range Fleet {
		want += spec.Size
	}
	require.Equal(t, want, total)
}

func TestFireAtOutcomes(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.PlaceShip("Destroyer", 0, 0, true)) // A1, A2

	outcome, _ := b.FireAt(-1, 0)
	require.Equal(t, FireInvalid, outcome)

	outcome, _ = b.FireAt(5, 5)
	require.Equal(t, FireMiss, outcome)

	outcome, _ = b.FireAt(5, 5)
	require.Equal(t, FireRepeat, outcome)

	outcome, _ = b.FireAt(0, 0)
	require.Equal(t, FireHit, outcome)

	outcome, _ = b.FireAt(0, 0)
	require.Equal(t, FireRepeat, outcome)
}

// TestFireAtSinkAndWin sinks a two-ship board and checks the SUNK and WIN
// transitions, including the sunk ship's name.
func TestFireAtSinkAndWin(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.PlaceShip("Destroyer", 0, 0, true))   // A1, A2
	require.NoError(t, b.PlaceShip("Submarine", 2, 0, true))   // C1, C2, C3
	require.NoError(t, b.PlaceShip("Carrier", 4, 4, true))     // E5..E9
	require.NoError(t, b.PlaceShip("Battleship", 6, 4, true))  // G5..G8
	require.NoError(t, b.PlaceShip("Cruiser", 8, 4, true))     // I5..I7

	outcome, _ := b.FireAt(0, 0)
	require.Equal(t, FireHit, outcome)

	outcome, name := b.FireAt(0, 1)
	require.Equal(t, FireSunk, outcome)
	require.Equal(t, "Destroyer", name)
	require.False(t, b.AllShipsSunk())
}

func TestAllShipsSunkWins(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.PlaceShip("Destroyer", 0, 0, true)) // only ship placed

	// Remove the rest of the fleet from consideration by never placing it;
	// sinking the destroyer then empties the board.
	outcome, _ := b.FireAt(0, 0)
	require.Equal(t, FireHit, outcome)
	outcome, _ = b.FireAt(0, 1)
	require.Equal(t, FireWin, outcome)
	require.True(t, b.AllShipsSunk())
}

func TestRenderHidesShipsFromOpponent(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.PlaceShip("Carrier", 0, 0, true))

	require.Contains(t, b.RenderOwn(), "S")
	require.NotContains(t, b.RenderTracking(), "S")

	b.FireAt(0, 0) // hit
	b.FireAt(5, 5) // miss
	tracking := b.RenderTracking()
	require.Contains(t, tracking, "X")
	require.Contains(t, tracking, "o")
}

func TestRenderDualShowsBothNames(t *testing.T) {
	out := RenderDual("alice", NewBoard(), "bob", NewBoard())
	require.True(t, strings.Contains(out, "alice") && strings.Contains(out, "bob"))
}
