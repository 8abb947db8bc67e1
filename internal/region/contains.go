package region

import "github.com/twpayne/go-geom"

// polygonContains tests the outer ring and then every hole.
func polygonContains(p *geom.Polygon, x, y float64) bool {
	n := p.NumLinearRings()
	if n == 0 {
		return false
	}
	stride := p.Stride()
	if !ringContains(p.LinearRing(0).FlatCoords(), stride, x, y) {
		return false
	}
	for i := 1; i < n; i++ {
		if ringContains(p.LinearRing(i).FlatCoords(), stride, x, y) {
			return false
		}
	}
	return true
}

// ringContains is the even-odd ray casting test against a closed or open
// ring of flat coordinates.
func ringContains(flat []float64, stride int, x, y float64) bool {
	n := len(flat) / stride
	if n < 3 {
		return false
	}
	inside := false
	jx, jy := flat[(n-1)*stride], flat[(n-1)*stride+1]
	for i := 0; i < n; i++ {
		ix, iy := flat[i*stride], flat[i*stride+1]
		if (iy > y) != (jy > y) && x < (jx-ix)*(y-iy)/(jy-iy)+ix {
			inside = !inside
		}
		jx, jy = ix, iy
	}
	return inside
}
