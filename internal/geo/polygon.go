// README: GeoJSON-style rings and planar intersection checks for zone validation.
package geo

import (
	"errors"

	"foodhub/internal/types"
)

// Ring is a closed linear ring of [lng, lat] positions, the GeoJSON order.
type Ring [][2]float64

var ErrInvalidRing = errors.New("boundary must be a ring of at least three distinct valid positions")

// Closed returns r with the first position repeated at the end when missing.
func (r Ring) Closed() Ring {
	if len(r) == 0 || r[0] == r[len(r)-1] {
		return r
	}
	out := make(Ring, len(r), len(r)+1)
	copy(out, r)
	return append(out, r[0])
}

func (r Ring) Validate() error {
	c := r.Closed()
	if len(c) < 4 {
		return ErrInvalidRing
	}
	distinct := map[[2]float64]struct{}{}
	for _, p := range c {
		if !ValidCoordinates(p[1], p[0]) {
			return ErrInvalidRing
		}
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return ErrInvalidRing
	}
	return nil
}

// GeoJSON wraps the ring as a Polygon geometry.
func (r Ring) GeoJSON() map[string]any {
	return map[string]any{
		"type":        "Polygon",
		"coordinates": []Ring{r.Closed()},
	}
}

// ContainsPoint reports whether p lies inside r or on its boundary.
func ContainsPoint(r Ring, p types.Point) bool {
	c := r.Closed()
	x, y := p.Lng, p.Lat
	inside := false
	for i, j := 0, len(c)-2; i < len(c)-1; j, i = i, i+1 {
		if onSegment(c[j], c[i], [2]float64{x, y}) {
			return true
		}
		xi, yi := c[i][0], c[i][1]
		xj, yj := c[j][0], c[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Intersects reports whether two rings share any point, including touching edges.
func Intersects(a, b Ring) bool {
	ca, cb := a.Closed(), b.Closed()
	for i := 0; i < len(ca)-1; i++ {
		for j := 0; j < len(cb)-1; j++ {
			if segmentsIntersect(ca[i], ca[i+1], cb[j], cb[j+1]) {
				return true
			}
		}
	}
	if len(cb) > 0 && ContainsPoint(ca, types.Point{Lng: cb[0][0], Lat: cb[0][1]}) {
		return true
	}
	if len(ca) > 0 && ContainsPoint(cb, types.Point{Lng: ca[0][0], Lat: ca[0][1]}) {
		return true
	}
	return false
}

func cross(o, a, b [2]float64) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(a, b, p [2]float64) bool {
	if cross(a, b, p) != 0 {
		return false
	}
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}

func segmentsIntersect(p1, p2, q1, q2 [2]float64) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(q1, q2, p1) || onSegment(q1, q2, p2) ||
		onSegment(p1, p2, q1) || onSegment(p1, p2, q2)
}
