package crossword

import (
	"testing"

	json "github.com/goccy/go-json"
)

func buildSample() *Crossword {
	cw := New()
	cw.SetClue("1a", Across, Clue{
		Hint: "Greeting",
		Cells: []Cell{
			{X: 0, Y: 0, C: " "},
			{X: 1, Y: 0, C: " "},
		},
	})
	cw.SetClue("1d", Down, Clue{
		Hint: "Vertical",
		Cells: []Cell{
			{X: 0, Y: 0, C: " "},
			{X: 0, Y: 1, C: " "},
		},
	})
	return cw
}

func TestUpdateCellCrossesMaps(t *testing.T) {
	cw := buildSample()
	cw.UpdateCell(0, 0, "H")

	c, ok := cw.CellAt(0, 0)
	if !ok || c != "H" {
		t.Fatalf("CellAt(0,0) = %q, %v; want H, true", c, ok)
	}

	cw.mu.RLock()
	across := cw.across["1a"].Cells[0].C
	down := cw.down["1d"].Cells[0].C
	cw.mu.RUnlock()
	if across != "H" || down != "H" {
		t.Fatalf("across=%q down=%q; both should read H", across, down)
	}
}

func TestUpdateCellLastWriterWins(t *testing.T) {
	cw := buildSample()
	cw.UpdateCell(1, 0, "A")
	cw.UpdateCell(1, 0, "B")

	c, ok := cw.CellAt(1, 0)
	if !ok || c != "B" {
		t.Fatalf("CellAt(1,0) = %q, %v; want B, true", c, ok)
	}
}

func TestUpdateCellEmptyBecomesSpace(t *testing.T) {
	cw := buildSample()
	cw.UpdateCell(0, 0, "")
	c, _ := cw.CellAt(0, 0)
	if c != " " {
		t.Fatalf("empty update produced %q, want a space", c)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cw := buildSample()
	cw.UpdateCell(0, 0, "H")

	data, err := json.Marshal(cw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cw2 := New()
	if err := json.Unmarshal(data, cw2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	c, ok := cw2.CellAt(0, 0)
	if !ok || c != "H" {
		t.Fatalf("round-tripped CellAt(0,0) = %q, %v; want H, true", c, ok)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cw := buildSample()
	clone := cw.Clone()
	cw.UpdateCell(0, 0, "Z")

	c, _ := clone.CellAt(0, 0)
	if c == "Z" {
		t.Fatal("clone observed a mutation made after Clone returned")
	}
}
