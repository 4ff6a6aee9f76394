package cascade

import (
	"image"
	"math"
)

// similar reports whether two rectangles describe the same object: every
// edge of a lies within eps times their mean smaller side of the matching
// edge of b.
func similar(a, b image.Rectangle, eps float64) bool {
	delta := eps * float64(min(a.Dx(), b.Dx())+min(a.Dy(), b.Dy())) * 0.5
	return absf(a.Min.X-b.Min.X) <= delta &&
		absf(a.Min.Y-b.Min.Y) <= delta &&
		absf(a.Max.X-b.Max.X) <= delta &&
		absf(a.Max.Y-b.Max.Y) <= delta
}

func absf(v int) float64 {
	return math.Abs(float64(v))
}

// partition labels the rectangles with the index of their cluster, where
// clusters are the connected components of the similarity relation.
// Labels are assigned in order of first appearance.
func partition(rects []image.Rectangle, eps float64) ([]int, int) {
	parent := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if !similar(rects[i], rects[j], eps) {
				continue
			}
			if ri, rj := find(i), find(j); ri != rj {
				parent[rj] = ri
			}
		}
	}

	labels := make([]int, len(rects))
	ids := make(map[int]int)
	for i := range rects {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels, len(ids)
}

// GroupRectangles clusters raw window hits and keeps the clusters holding
// more than minNeighbors members, each replaced by the average rectangle of
// its members. A cluster lying inside a much stronger one is dropped.
// With minNeighbors of zero the hits are returned unchanged.
func GroupRectangles(rects []image.Rectangle, minNeighbors int, eps float64) []image.Rectangle {
	if minNeighbors <= 0 || len(rects) == 0 {
		return rects
	}
	labels, nclasses := partition(rects, eps)

	type cluster struct {
		x, y, w, h int
		n          int
	}
	clusters := make([]cluster, nclasses)
	for i, r := range rects {
		c := &clusters[labels[i]]
		c.x += r.Min.X
		c.y += r.Min.Y
		c.w += r.Dx()
		c.h += r.Dy()
		c.n++
	}
	avg := make([]image.Rectangle, nclasses)
	for i, c := range clusters {
		s := 1 / float64(c.n)
		x, y := round(float64(c.x)*s), round(float64(c.y)*s)
		avg[i] = image.Rect(x, y, x+round(float64(c.w)*s), y+round(float64(c.h)*s))
	}

	var out []image.Rectangle
	for i, r1 := range avg {
		n1 := clusters[i].n
		if n1 <= minNeighbors {
			continue
		}
		enclosed := false
		for j, r2 := range avg {
			n2 := clusters[j].n
			if i == j || n2 <= minNeighbors {
				continue
			}
			dx := round(float64(r2.Dx()) * eps)
			dy := round(float64(r2.Dy()) * eps)
			if r1.Min.X >= r2.Min.X-dx && r1.Min.Y >= r2.Min.Y-dy &&
				r1.Max.X <= r2.Max.X+dx && r1.Max.Y <= r2.Max.Y+dy &&
				(n2 > max(3, n1) || n1 < 3) {
				enclosed = true
				break
			}
		}
		if !enclosed {
			out = append(out, r1)
		}
	}
	return out
}
