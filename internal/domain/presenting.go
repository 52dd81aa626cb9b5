package domain

type PresentingSurface string

const (
	SurfaceWhiteboard PresentingSurface = "whiteboard"
	SurfaceNotes      PresentingSurface = "notes"
)

func (s PresentingSurface) Valid() bool {
	return s == SurfaceWhiteboard || s == SurfaceNotes
}

// PresentingState records who currently presents a surface. No mutual
// exclusion between surfaces; last toggle wins per surface.
type PresentingState struct {
	Surface PresentingSurface `json:"surface"`
	By      PeerID            `json:"by"`
	ByName  string            `json:"by_name"`
	Active  bool              `json:"active"`
}
