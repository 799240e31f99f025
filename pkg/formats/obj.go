package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/clothtear/pkg/math"
)

// OBJ format errors.
var (
	ErrNoVertices = errors.New("OBJ data has no vertices")
	ErrBadVertex  = errors.New("malformed OBJ vertex")
	ErrBadFace    = errors.New("malformed OBJ face")
)

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Name      string
	Positions []math.Vec3
	Indices   []int // 3 per triangle
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// ParseOBJ parses Wavefront OBJ data. Only geometry is read: "v" and "f"
// records, plus the first "o" name. Polygons are fan-triangulated.
func ParseOBJ(data []byte) (*Mesh, error) {
	mesh := &Mesh{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		switch fields[0] {
		case "v":
			v, err := parseOBJVertex(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			mesh.Positions = append(mesh.Positions, v)
		case "f":
			if err := mesh.parseOBJFace(fields[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		case "o":
			if mesh.Name == "" && len(fields) > 1 {
				mesh.Name = strings.Join(fields[1:], " ")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning OBJ data: %w", err)
	}

	if len(mesh.Positions) == 0 {
		return nil, ErrNoVertices
	}
	return mesh, nil
}

// parseOBJVertex reads "x y z [w]".
func parseOBJVertex(fields []string) (math.Vec3, error) {
	if len(fields) < 3 {
		return math.Vec3{}, fmt.Errorf("%w: expected 3 coordinates, got %d", ErrBadVertex, len(fields))
	}
	var v [3]float32
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return math.Vec3{}, fmt.Errorf("%w: %q", ErrBadVertex, fields[i])
		}
		v[i] = float32(f)
	}
	return math.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

// parseOBJFace reads a polygon of "v", "v/vt", "v//vn" or "v/vt/vn"
// references. Indices are 1-based; negative indices count back from the
// most recent vertex.
func (m *Mesh) parseOBJFace(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("%w: expected at least 3 vertices, got %d", ErrBadFace, len(fields))
	}

	polygon := make([]int, len(fields))
	for i, ref := range fields {
		if slash := strings.IndexByte(ref, '/'); slash >= 0 {
			ref = ref[:slash]
		}
		n, err := strconv.Atoi(ref)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: bad vertex reference %q", ErrBadFace, fields[i])
		}
		index := n - 1
		if n < 0 {
			index = len(m.Positions) + n
		}
		if index < 0 || index >= len(m.Positions) {
			return fmt.Errorf("%w: vertex %d out of range", ErrBadFace, n)
		}
		polygon[i] = index
	}

	for i := 1; i+1 < len(polygon); i++ {
		m.Indices = append(m.Indices, polygon[0], polygon[i], polygon[i+1])
	}
	return nil
}

// ParseOBJFile parses an OBJ file from disk.
func ParseOBJFile(path string) (*Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading OBJ file: %w", err)
	}
	return ParseOBJ(data)
}
