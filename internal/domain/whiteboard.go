package domain

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type StrokeTool string

const (
	ToolPen    StrokeTool = "pen"
	ToolEraser StrokeTool = "eraser"
)

type Stroke struct {
	ID     string     `json:"id"`
	Points []Point    `json:"points"`
	Color  string     `json:"color"`
	Width  float64    `json:"width"`
	Tool   StrokeTool `json:"tool"`
}

// Whiteboard is an append-only stroke log with room-wide undo/clear.
type Whiteboard struct {
	Strokes    []Stroke `json:"strokes"`
	Background string   `json:"background"`
}

func (w *Whiteboard) Append(s Stroke) {
	w.Strokes = append(w.Strokes, s)
}

// Undo removes the most recently appended stroke regardless of author.
func (w *Whiteboard) Undo() (Stroke, bool) {
	if len(w.Strokes) == 0 {
		return Stroke{}, false
	}
	last := w.Strokes[len(w.Strokes)-1]
	w.Strokes = w.Strokes[:len(w.Strokes)-1]
	return last, true
}

func (w *Whiteboard) Clear() {
	w.Strokes = nil
}

// Snapshot copies the stroke log so callers can serialize it outside
// the room lock.
func (w *Whiteboard) Snapshot() Whiteboard {
	out := Whiteboard{Background: w.Background}
	out.Strokes = append(out.Strokes, w.Strokes...)
	return out
}
