// Package crossword holds the data model of spec.md §3: cells, clues,
// and the crossword grid itself, with the atomic cross-map update
// that keeps an Across clue and a Down clue sharing a coordinate in
// agreement.
package crossword

import (
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/text/width"
)

// Cell is a single coordinate with its displayed character. Character
// is any Unicode scalar value; empty cells carry a space.
type Cell struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	C string `json:"c"`
}

// Direction distinguishes an Across clue from a Down clue.
type Direction int

const (
	Across Direction = iota
	Down
)

// Clue is a hint plus the ordered cells it covers.
type Clue struct {
	Hint  string `json:"hint"`
	Cells []Cell `json:"cells"`
}

// wireCrossword is the JSON-compatible form: two parallel key→Clue
// maps, matching spec.md §3 exactly ("a mapping from clue-key... to
// Across-Clue and a parallel mapping to Down-Clue").
type wireCrossword struct {
	Across map[string]Clue `json:"across"`
	Down   map[string]Clue `json:"down"`
}

// Crossword is the authoritative puzzle grid. Zero value is not
// usable; use New or Unmarshal.
type Crossword struct {
	mu     sync.RWMutex
	across map[string]Clue
	down   map[string]Clue
}

// New builds an empty Crossword.
func New() *Crossword {
	return &Crossword{
		across: make(map[string]Clue),
		down:   make(map[string]Clue),
	}
}

// SetClue installs or replaces a clue under key in the given direction.
// Builds a grid in code; POST /puzzle/add decodes its grid from JSON
// instead, and live editing goes through UpdateCell.
func (cw *Crossword) SetClue(key string, dir Direction, clue Clue) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if dir == Across {
		cw.across[key] = clue
	} else {
		cw.down[key] = clue
	}
}

// UpdateCell rewrites every cell at (x, y) in every Across and Down
// clue to carry character c, atomically with respect to any concurrent
// reader (Snapshot, MarshalJSON) or writer. This is the invariant
// spec.md §3 requires: every cell coordinate appearing in both maps
// must carry the same character at any observable moment.
func (cw *Crossword) UpdateCell(x, y int, c string) {
	if c == "" {
		c = " "
	}
	c = foldChar(c)

	cw.mu.Lock()
	defer cw.mu.Unlock()
	for key, clue := range cw.across {
		if rewriteClue(&clue, x, y, c) {
			cw.across[key] = clue
		}
	}
	for key, clue := range cw.down {
		if rewriteClue(&clue, x, y, c) {
			cw.down[key] = clue
		}
	}
}

func rewriteClue(clue *Clue, x, y int, c string) (changed bool) {
	for i := range clue.Cells {
		if clue.Cells[i].X == x && clue.Cells[i].Y == y {
			clue.Cells[i].C = c
			changed = true
		}
	}
	return changed
}

// foldChar normalizes a fullwidth/halfwidth character variant so that,
// e.g., "H" and "Ｈ" update the same logical cell.
func foldChar(c string) string {
	r := []rune(c)
	if len(r) == 0 {
		return " "
	}
	return string(width.Fold.Rune(r[0]))
}

// CellAt returns the character at (x, y), and whether any clue covers
// that coordinate.
func (cw *Crossword) CellAt(x, y int) (string, bool) {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	for _, clue := range cw.across {
		for _, cell := range clue.Cells {
			if cell.X == x && cell.Y == y {
				return cell.C, true
			}
		}
	}
	for _, clue := range cw.down {
		for _, cell := range clue.Cells {
			if cell.X == x && cell.Y == y {
				return cell.C, true
			}
		}
	}
	return "", false
}

// MarshalJSON serializes the crossword to the wire form.
func (cw *Crossword) MarshalJSON() ([]byte, error) {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return json.Marshal(wireCrossword{Across: cw.across, Down: cw.down})
}

// UnmarshalJSON deserializes the wire form into this Crossword.
func (cw *Crossword) UnmarshalJSON(data []byte) error {
	var w wireCrossword
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Across == nil {
		w.Across = make(map[string]Clue)
	}
	if w.Down == nil {
		w.Down = make(map[string]Clue)
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.across = w.Across
	cw.down = w.Down
	return nil
}

// Clone returns a deep, independent copy suitable for handing to a
// caller that must not observe further mutation (the /data HTTP
// handler's snapshot).
func (cw *Crossword) Clone() *Crossword {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	out := New()
	for k, v := range cw.across {
		out.across[k] = cloneClue(v)
	}
	for k, v := range cw.down {
		out.down[k] = cloneClue(v)
	}
	return out
}

func cloneClue(c Clue) Clue {
	cells := make([]Cell, len(c.Cells))
	copy(cells, c.Cells)
	return Clue{Hint: c.Hint, Cells: cells}
}
