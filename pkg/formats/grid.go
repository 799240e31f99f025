package formats

import "github.com/Faultbox/clothtear/pkg/math"

// Grid returns a flat rectangular cloth in the XY plane with columns x rows
// vertices, spacing apart. Vertex (x, y) has index y*columns+x. Every cell is
// split into two counter-clockwise triangles along its rising diagonal.
func Grid(columns, rows int, spacing float32) *Mesh {
	mesh := &Mesh{Name: "Grid"}
	if columns < 2 || rows < 2 {
		return mesh
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < columns; x++ {
			mesh.Positions = append(mesh.Positions, math.Vec3{X: float32(x) * spacing, Y: float32(y) * spacing})
		}
	}
	for y := 0; y < rows-1; y++ {
		for x := 0; x < columns-1; x++ {
			a := y*columns + x
			b, c, d := a+1, a+columns, a+columns+1
			mesh.Indices = append(mesh.Indices, a, b, d, a, d, c)
		}
	}
	return mesh
}
