package cascade

import (
	"image"
	"math"
)

// stageEps absorbs the rounding of stage sums against their thresholds.
const stageEps = 1e-5

type haarRect struct {
	x, y, w, h int
	weight     float64
}

type haarFeature struct {
	rects []haarRect
}

// treeNode is a split of a weak classifier. Positive children index other
// nodes of the same tree, zero and negative children index leaves (-child).
type treeNode struct {
	left, right int
	feature     int
	threshold   float64
}

type weakClassifier struct {
	nodes  []treeNode
	leaves []float64
}

type stage struct {
	threshold float64
	weak      []weakClassifier
}

// Cascade is a boosted Haar cascade evaluated with integral images.
type Cascade struct {
	width, height int
	stages        []stage
	features      []haarFeature
}

var _ Classifier = (*Cascade)(nil)

// WindowSize returns the training window of the cascade.
func (c *Cascade) WindowSize() image.Point {
	return image.Pt(c.width, c.height)
}

// Stages returns the number of stages in the cascade.
func (c *Cascade) Stages() int {
	return len(c.stages)
}

// Detect slides the cascade over gray at every scale allowed by p and
// returns the windows surviving the neighbour vote.
func (c *Cascade) Detect(gray *image.Gray, p Params) ([]image.Rectangle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	origin := gray.Bounds().Min
	ii := NewIntegral(gray)
	size := ii.Size()

	var hits []image.Rectangle
	for s := 1.0; ; s *= p.ScaleFactor {
		winW := round(float64(c.width) * s)
		winH := round(float64(c.height) * s)
		if winW > size.X || winH > size.Y {
			break
		}
		if p.MaxSize.X > 0 && winW > p.MaxSize.X || p.MaxSize.Y > 0 && winH > p.MaxSize.Y {
			break
		}
		if !p.accepts(winW, winH) {
			continue
		}
		sc := c.scale(s)
		step := max(2, round(s))
		for y := 0; y+sc.extent.Y <= size.Y; y += step {
			for x := 0; x+sc.extent.X <= size.X; x += step {
				if sc.classify(ii, x, y) {
					hits = append(hits, image.Rect(x, y, x+winW, y+winH).Add(origin))
				}
			}
		}
	}
	return GroupRectangles(hits, p.MinNeighbors, GroupEps), nil
}

// scaledCascade is the cascade with its features resized for one window size.
type scaledCascade struct {
	*Cascade
	features []haarFeature
	norm     image.Rectangle
	invArea  float64
	extent   image.Point
}

// scale resizes every feature by s. The window variance is taken over the
// window inset by one base pixel, and the first rectangle weight of every
// feature is derived again from the rounded geometry so features stay zero
// mean on flat regions.
func (c *Cascade) scale(s float64) *scaledCascade {
	eq := round(s)
	normW := round(float64(c.width-2) * s)
	normH := round(float64(c.height-2) * s)
	sc := &scaledCascade{
		Cascade:  c,
		features: make([]haarFeature, len(c.features)),
		norm:     image.Rect(eq, eq, eq+normW, eq+normH),
		invArea:  1 / float64(normW*normH),
		extent:   image.Pt(round(float64(c.width)*s), round(float64(c.height)*s)),
	}
	sc.extent.X = max(sc.extent.X, sc.norm.Max.X)
	sc.extent.Y = max(sc.extent.Y, sc.norm.Max.Y)

	for i, f := range c.features {
		rects := make([]haarRect, len(f.rects))
		var area0, sum0 float64
		for k, r := range f.rects {
			tr := haarRect{
				x:      round(float64(r.x) * s),
				y:      round(float64(r.y) * s),
				w:      round(float64(r.w) * s),
				h:      round(float64(r.h) * s),
				weight: r.weight * sc.invArea,
			}
			area := float64(tr.w * tr.h)
			if k == 0 {
				area0 = area
			} else {
				sum0 += tr.weight * area
			}
			sc.extent.X = max(sc.extent.X, tr.x+tr.w)
			sc.extent.Y = max(sc.extent.Y, tr.y+tr.h)
			rects[k] = tr
		}
		if len(rects) > 1 && area0 > 0 {
			rects[0].weight = -sum0 / area0
		}
		sc.features[i] = haarFeature{rects: rects}
	}
	return sc
}

// classify runs every stage on the window with top-left corner (x, y).
func (sc *scaledCascade) classify(ii *Integral, x, y int) bool {
	n := sc.norm
	mean := float64(ii.Sum(x+n.Min.X, y+n.Min.Y, n.Dx(), n.Dy())) * sc.invArea
	variance := float64(ii.SqSum(x+n.Min.X, y+n.Min.Y, n.Dx(), n.Dy()))*sc.invArea - mean*mean
	stddev := 1.0
	if variance > 0 {
		stddev = math.Sqrt(variance)
	}

	for _, st := range sc.stages {
		var sum float64
		for _, wc := range st.weak {
			idx := 0
			for {
				node := wc.nodes[idx]
				val := sc.features[node.feature].eval(ii, x, y)
				if val < node.threshold*stddev {
					idx = node.left
				} else {
					idx = node.right
				}
				if idx <= 0 {
					break
				}
			}
			sum += wc.leaves[-idx]
		}
		if sum < st.threshold-stageEps {
			return false
		}
	}
	return true
}

func (f haarFeature) eval(ii *Integral, x, y int) float64 {
	var v float64
	for _, r := range f.rects {
		v += r.weight * float64(ii.Sum(x+r.x, y+r.y, r.w, r.h))
	}
	return v
}

func round(v float64) int {
	return int(math.Round(v))
}
