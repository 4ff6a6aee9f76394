package visage

import (
	"fmt"
	"image"
	"sort"
)

// FaceRegion is an axis aligned face box in source image coordinates.
type FaceRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the region as an image.Rectangle.
func (r FaceRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// In reports whether the region lies fully inside a w x h image.
func (r FaceRegion) In(w, h int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= w && r.Y+r.Height <= h
}

func (r FaceRegion) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// regionsFromRects clamps the rectangles to bounds, drops the empty ones and
// orders the rest top to bottom, then left to right.
func regionsFromRects(rects []image.Rectangle, bounds image.Rectangle) []FaceRegion {
	regions := make([]FaceRegion, 0, len(rects))
	for _, r := range rects {
		r = r.Intersect(bounds).Sub(bounds.Min)
		if r.Empty() {
			continue
		}
		regions = append(regions, FaceRegion{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()})
	}
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})
	return regions
}
