package topology

import (
	"github.com/Faultbox/clothtear/pkg/math"
	"golang.org/x/exp/slices"
)

// Classify partitions the triangles incident to cluster c by the side of
// plane their centroid lies on. front holds the triangles strictly on the
// side the normal points to, back holds the rest. Both keep ascending order.
//
// Centroids are computed from position, which maps a cluster to its current
// location. A nil position uses the stored triangle centroids.
//
// ok is false when c is out of range or all incident triangles fall on the
// same side, in which case the plane does not separate the cluster.
func (m *Mesh) Classify(c int, plane math.Plane, position func(cluster int) math.Vec3) (front, back []int, ok bool) {
	if c < 0 || c >= len(m.Clusters) {
		return nil, nil, false
	}
	for _, f := range m.Clusters[c].Faces {
		centroid := m.Triangles[f].Centroid
		if position != nil {
			corners := m.Triangles[f].Corners
			centroid = math.Centroid(position(corners[0]), position(corners[1]), position(corners[2]))
		}
		if plane.Side(centroid) {
			front = append(front, f)
		} else {
			back = append(back, f)
		}
	}
	return front, back, len(front) > 0 && len(back) > 0
}

// SplitCluster moves the corners of faces that reference cluster original to
// a new cluster appended at the end of the cluster list, and returns its
// index. Half-edges of the moved faces whose twin stays with the original
// cluster become borders.
//
// faces must be a non-empty proper subset of the triangles incident to
// original. If it is not, or original is out of range, the mesh is left
// untouched and ok is false.
func (m *Mesh) SplitCluster(faces []int, original int) (newCluster int, ok bool) {
	if original < 0 || original >= len(m.Clusters) || len(faces) == 0 {
		return None, false
	}
	incident := m.Clusters[original].Faces
	if len(faces) >= len(incident) {
		return None, false
	}
	moved := slices.Clone(faces)
	slices.Sort(moved)
	moved = slices.Compact(moved)
	if len(moved) != len(faces) {
		return None, false
	}
	for _, f := range moved {
		if _, found := slices.BinarySearch(incident, f); !found {
			return None, false
		}
	}

	newCluster = len(m.Clusters)
	isMoved := func(f int) bool {
		_, found := slices.BinarySearch(moved, f)
		return found
	}

	// Unpair edges that cross between the two groups before corners move,
	// while both halves still reference the original cluster.
	for _, h := range m.HalfEdgesAround(original, moved) {
		if twin := m.Pairs[h]; twin != None && !isMoved(m.Face(twin)) {
			m.Pairs[h] = None
			m.Pairs[twin] = None
		}
	}

	kept := make([]int, 0, len(incident)-len(moved))
	for _, f := range incident {
		if !isMoved(f) {
			kept = append(kept, f)
		}
	}

	orig := m.Clusters[original]
	m.Clusters = append(m.Clusters, Cluster{Position: orig.Position, Faces: moved})
	m.Clusters[original].Faces = kept

	for _, f := range moved {
		tri := &m.Triangles[f]
		for i, c := range tri.Corners {
			if c == original {
				tri.Corners[i] = newCluster
			}
		}
		m.updateTriangle(f)
	}
	m.updateClusterNormal(original)
	m.updateClusterNormal(newCluster)
	return newCluster, true
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{
		Clusters:  make([]Cluster, len(m.Clusters)),
		Triangles: slices.Clone(m.Triangles),
		Pairs:     slices.Clone(m.Pairs),
	}
	for i, c := range m.Clusters {
		out.Clusters[i] = Cluster{
			Position: c.Position,
			Normal:   c.Normal,
			Faces:    slices.Clone(c.Faces),
		}
	}
	return out
}

// Restore builds a mesh from cluster positions, triangle corners and half-edge
// pairs, recomputing incident faces, centroids and normals.
func Restore(positions []math.Vec3, corners [][3]int, pairs []int) (*Mesh, error) {
	if len(corners) == 0 {
		return nil, ErrNoTriangles
	}
	if len(pairs) != len(corners)*3 {
		return nil, ErrIndexCount
	}
	m := &Mesh{
		Clusters:  make([]Cluster, len(positions)),
		Triangles: make([]Triangle, len(corners)),
		Pairs:     slices.Clone(pairs),
	}
	for i, p := range positions {
		m.Clusters[i].Position = p
	}
	for t, tri := range corners {
		for _, c := range tri {
			if c < 0 || c >= len(positions) {
				return nil, ErrIndexOutOfRange
			}
			m.Clusters[c].Faces = append(m.Clusters[c].Faces, t)
		}
		m.Triangles[t].Corners = tri
		m.updateTriangle(t)
	}
	for _, p := range pairs {
		if p < None || p >= len(pairs) {
			return nil, ErrIndexOutOfRange
		}
	}
	for c := range m.Clusters {
		m.updateClusterNormal(c)
	}
	return m, nil
}
