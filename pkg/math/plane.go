package math

// Plane is an oriented plane through Point with unit Normal.
type Plane struct {
	Normal Vec3
	Point  Vec3
}

// NewPlane builds a plane through point whose normal points along dir.
// dir does not need to be normalized. ok is false when dir has no length.
func NewPlane(point, dir Vec3) (p Plane, ok bool) {
	n := dir.Normalize()
	if n == (Vec3{}) {
		return Plane{}, false
	}
	return Plane{Normal: n, Point: point}, true
}

// SignedDistance returns the signed distance from the plane to x.
func (p Plane) SignedDistance(x Vec3) float32 {
	return p.Normal.Dot(x.Sub(p.Point))
}

// Side reports whether x lies strictly on the side the normal points to.
func (p Plane) Side(x Vec3) bool {
	return p.SignedDistance(x) > 0
}
