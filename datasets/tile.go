package datasets

// Tile is a square 2D block cut from a stack, stored as a flat row-major
// float32 buffer. It is the unit returned to consumers; a composite sample is
// the elementwise sum of one "100" tile and one "150" tile.
type Tile struct {
	// Data holds Size*Size values in row-major order.
	Data []float32
	// Size is the side length in pixels.
	Size int
}

// NewTile allocates a zeroed tile with the given side length.
func NewTile(size int) *Tile {
	return &Tile{Data: make([]float32, size*size), Size: size}
}

// At returns the value at row r, column c.
func (t *Tile) At(r, c int) float32 {
	return t.Data[r*t.Size+c]
}

// Set stores v at row r, column c.
func (t *Tile) Set(r, c int, v float32) {
	t.Data[r*t.Size+c] = v
}

// Clone returns a deep copy of the tile.
func (t *Tile) Clone() *Tile {
	out := NewTile(t.Size)
	copy(out.Data, t.Data)
	return out
}

// Rows returns the tile as a slice of row views into the underlying buffer.
// Useful for tensor conversion; the rows alias t.Data.
func (t *Tile) Rows() [][]float32 {
	rows := make([][]float32, t.Size)
	for r := 0; r < t.Size; r++ {
		rows[r] = t.Data[r*t.Size : (r+1)*t.Size]
	}
	return rows
}
