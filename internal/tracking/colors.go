package tracking

import "sync"

// routePalette is the fixed set of route overlay colors. Destinations beyond
// the palette wrap around.
var routePalette = [...]string{
	"#4285F4", // blue
	"#EA4335", // red
	"#FBBC05", // yellow
	"#34A853", // green
	"#9C27B0", // purple
	"#FF6D00", // orange
}

// PaletteSize is the number of distinct route colors.
const PaletteSize = len(routePalette)

// ColorAssigner hands out palette indexes to destinations in first-seen
// order. An id keeps its index for the assigner's lifetime, even when the
// destination is removed or appears again, so overlay colors never shuffle
// under the user.
type ColorAssigner struct {
	mu      sync.Mutex
	indexes map[string]int
	next    int
}

// NewColorAssigner creates an empty assigner.
func NewColorAssigner() *ColorAssigner {
	return &ColorAssigner{indexes: make(map[string]int)}
}

// Assign returns the palette index for the destination id, allocating the
// next index modulo the palette size on first sight.
func (a *ColorAssigner) Assign(destinationID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.indexes[destinationID]; ok {
		return idx
	}
	idx := a.next % PaletteSize
	a.indexes[destinationID] = idx
	a.next++
	return idx
}

// ColorHex returns the overlay color for a palette index.
func ColorHex(index int) string {
	return routePalette[index%PaletteSize]
}
