// Package topology provides an index-based half-edge triangle mesh whose
// vertices (clusters) can be split at runtime.
//
// Half-edges are implicit: half-edge h belongs to triangle h/3, starts at
// corner h%3 and ends at corner (h+1)%3 of that triangle.
package topology

import (
	"errors"
	"fmt"

	"github.com/Faultbox/clothtear/pkg/math"
	"golang.org/x/exp/slices"
)

// None marks a missing half-edge, triangle or cluster.
const None = -1

// Mesh construction errors.
var (
	ErrNoTriangles     = errors.New("mesh has no triangles")
	ErrIndexCount      = errors.New("index count is not a multiple of 3")
	ErrIndexOutOfRange = errors.New("triangle index out of range")
)

// Cluster is a logical vertex: one or more welded input vertices.
type Cluster struct {
	Position math.Vec3
	Normal   math.Vec3
	// Faces lists the incident triangles in ascending order.
	Faces []int
}

// Triangle references three clusters in counter-clockwise order.
type Triangle struct {
	Corners  [3]int
	Centroid math.Vec3
	Normal   math.Vec3 // unit normal
}

// Mesh is a half-edge triangle mesh.
type Mesh struct {
	Clusters  []Cluster
	Triangles []Triangle
	// Pairs maps every half-edge to its twin, or None on borders.
	Pairs []int
}

// Build welds positions closer than weldDistance into clusters and builds
// the half-edge structure for the triangles in indices. It returns the mesh
// and the cluster assigned to every input vertex.
//
// Welding visits vertices in input order, so the same input always produces
// the same clusters. Triangles that collapse after welding are dropped.
func Build(positions []math.Vec3, indices []int, weldDistance float32) (*Mesh, []int, error) {
	if len(indices)%3 != 0 {
		return nil, nil, ErrIndexCount
	}
	if len(indices) == 0 {
		return nil, nil, ErrNoTriangles
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(positions) {
			return nil, nil, fmt.Errorf("%w: %d (vertex count %d)", ErrIndexOutOfRange, idx, len(positions))
		}
	}

	vertexToCluster, clusterPositions := weld(positions, weldDistance)

	m := &Mesh{Clusters: make([]Cluster, len(clusterPositions))}
	for i, p := range clusterPositions {
		m.Clusters[i].Position = p
	}

	for t := 0; t < len(indices); t += 3 {
		a := vertexToCluster[indices[t]]
		b := vertexToCluster[indices[t+1]]
		c := vertexToCluster[indices[t+2]]
		if a == b || b == c || a == c {
			continue
		}
		m.Triangles = append(m.Triangles, Triangle{Corners: [3]int{a, b, c}})
	}
	if len(m.Triangles) == 0 {
		return nil, nil, ErrNoTriangles
	}

	for t := range m.Triangles {
		for _, c := range m.Triangles[t].Corners {
			m.Clusters[c].Faces = append(m.Clusters[c].Faces, t)
		}
		m.updateTriangle(t)
	}
	m.pairHalfEdges()
	for c := range m.Clusters {
		m.updateClusterNormal(c)
	}
	return m, vertexToCluster, nil
}

// weld groups positions into clusters using a spatial hash.
func weld(positions []math.Vec3, weldDistance float32) ([]int, []math.Vec3) {
	vertexToCluster := make([]int, len(positions))
	var (
		first   []math.Vec3 // position of the first vertex of each cluster
		sums    []math.Vec3
		counts  []int
		exact   = make(map[math.Vec3]int)
		grid    = make(map[[3]int][]int)
		cell    = weldDistance
		weldSq  = weldDistance * weldDistance
		welding = weldDistance > 0
	)

	for v, p := range positions {
		cluster := None
		if welding {
			key := p.Floor(cell)
		search:
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					for dz := -1; dz <= 1; dz++ {
						for _, c := range grid[[3]int{key[0] + dx, key[1] + dy, key[2] + dz}] {
							if first[c].Sub(p).LengthSq() <= weldSq {
								cluster = c
								break search
							}
						}
					}
				}
			}
			if cluster == None {
				cluster = len(first)
				grid[key] = append(grid[key], cluster)
			}
		} else if c, ok := exact[p]; ok {
			cluster = c
		} else {
			cluster = len(first)
			exact[p] = cluster
		}

		if cluster == len(first) {
			first = append(first, p)
			sums = append(sums, math.Vec3{})
			counts = append(counts, 0)
		}
		sums[cluster] = sums[cluster].Add(p)
		counts[cluster]++
		vertexToCluster[v] = cluster
	}

	centroids := make([]math.Vec3, len(sums))
	for i := range sums {
		centroids[i] = sums[i].Scale(1 / float32(counts[i]))
	}
	return vertexToCluster, centroids
}

// pairHalfEdges links twin half-edges. When more than two triangles share an
// edge, the first claimant is paired and the rest stay borders.
func (m *Mesh) pairHalfEdges() {
	m.Pairs = make([]int, len(m.Triangles)*3)
	directed := make(map[[2]int]int, len(m.Pairs))
	for h := range m.Pairs {
		m.Pairs[h] = None
		key := [2]int{m.Origin(h), m.End(h)}
		if _, dup := directed[key]; !dup {
			directed[key] = h
		}
	}
	for h := range m.Pairs {
		if m.Pairs[h] != None || directed[[2]int{m.Origin(h), m.End(h)}] != h {
			continue
		}
		twin, ok := directed[[2]int{m.End(h), m.Origin(h)}]
		if !ok || m.Pairs[twin] != None {
			continue
		}
		m.Pairs[h] = twin
		m.Pairs[twin] = h
	}
}

// HalfEdgeCount returns the number of half-edges.
func (m *Mesh) HalfEdgeCount() int {
	return len(m.Triangles) * 3
}

// Face returns the triangle half-edge h belongs to.
func (m *Mesh) Face(h int) int {
	return h / 3
}

// Origin returns the cluster half-edge h starts at.
func (m *Mesh) Origin(h int) int {
	return m.Triangles[h/3].Corners[h%3]
}

// End returns the cluster half-edge h points to.
func (m *Mesh) End(h int) int {
	return m.Triangles[h/3].Corners[(h%3+1)%3]
}

// Next returns the following half-edge around the same triangle.
func (m *Mesh) Next(h int) int {
	return h - h%3 + (h%3+1)%3
}

// Pair returns the twin of h, or None on borders.
func (m *Mesh) Pair(h int) int {
	return m.Pairs[h]
}

// Touches reports whether half-edge h starts or ends at cluster c.
func (m *Mesh) Touches(h, c int) bool {
	return m.Origin(h) == c || m.End(h) == c
}

// Edges returns one representative half-edge per undirected edge, in
// ascending order: every border half-edge and the lower half of every pair.
func (m *Mesh) Edges() []int {
	edges := make([]int, 0, m.HalfEdgeCount()/2+1)
	for h, p := range m.Pairs {
		if p == None || h < p {
			edges = append(edges, h)
		}
	}
	return edges
}

// IncidentFaces returns the triangles incident to cluster c.
func (m *Mesh) IncidentFaces(c int) []int {
	return m.Clusters[c].Faces
}

// Neighbours returns the clusters sharing an edge with c, sorted ascending.
func (m *Mesh) Neighbours(c int) []int {
	var out []int
	for _, f := range m.Clusters[c].Faces {
		for _, n := range m.Triangles[f].Corners {
			if n == c {
				continue
			}
			if i, found := slices.BinarySearch(out, n); !found {
				out = slices.Insert(out, i, n)
			}
		}
	}
	return out
}

// HalfEdgesAround returns the half-edges of the given faces that start or end
// at cluster c.
func (m *Mesh) HalfEdgesAround(c int, faces []int) []int {
	var out []int
	for _, f := range faces {
		for corner := 0; corner < 3; corner++ {
			h := f*3 + corner
			if m.Touches(h, c) {
				out = append(out, h)
			}
		}
	}
	return out
}

// Area returns the area of triangle t.
func (m *Mesh) Area(t int) float32 {
	c := m.Triangles[t].Corners
	return math.TriangleNormal(
		m.Clusters[c[0]].Position,
		m.Clusters[c[1]].Position,
		m.Clusters[c[2]].Position,
	).Length() / 2
}

func (m *Mesh) updateTriangle(t int) {
	tri := &m.Triangles[t]
	a := m.Clusters[tri.Corners[0]].Position
	b := m.Clusters[tri.Corners[1]].Position
	c := m.Clusters[tri.Corners[2]].Position
	tri.Centroid = math.Centroid(a, b, c)
	tri.Normal = math.TriangleNormal(a, b, c).Normalize()
}

// updateClusterNormal sets the area-weighted normal of cluster c.
func (m *Mesh) updateClusterNormal(c int) {
	var n math.Vec3
	for _, f := range m.Clusters[c].Faces {
		tri := m.Triangles[f].Corners
		n = n.Add(math.TriangleNormal(
			m.Clusters[tri[0]].Position,
			m.Clusters[tri[1]].Position,
			m.Clusters[tri[2]].Position,
		))
	}
	m.Clusters[c].Normal = n.Normalize()
}
