package cascade

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned for cascade files this package cannot evaluate.
var ErrUnsupported = errors.New("cascade: unsupported cascade")

type xmlStorage struct {
	XMLName xml.Name   `xml:"opencv_storage"`
	Cascade xmlCascade `xml:"cascade"`
}

type xmlCascade struct {
	StageType   string       `xml:"stageType"`
	FeatureType string       `xml:"featureType"`
	Height      int          `xml:"height"`
	Width       int          `xml:"width"`
	Stages      []xmlStage   `xml:"stages>_"`
	Features    []xmlFeature `xml:"features>_"`
}

type xmlStage struct {
	Threshold float64   `xml:"stageThreshold"`
	Weak      []xmlWeak `xml:"weakClassifiers>_"`
}

type xmlWeak struct {
	InternalNodes string `xml:"internalNodes"`
	LeafValues    string `xml:"leafValues"`
}

type xmlFeature struct {
	Rects  []string `xml:"rects>_"`
	Tilted int      `xml:"tilted"`
}

// Load reads an OpenCV cascade classifier file from path.
func Load(path string) (*Cascade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cascade: cannot open cascade file")
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cascade: cannot load %s", path)
	}
	return c, nil
}

// Parse decodes a cascade stored in the OpenCV "opencv-cascade-classifier"
// XML layout. Only boosted Haar cascades with upright features are supported.
func Parse(r io.Reader) (*Cascade, error) {
	var doc xmlStorage
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "cascade: malformed xml")
	}
	x := doc.Cascade
	if x.StageType != "BOOST" {
		return nil, errors.Wrapf(ErrUnsupported, "stage type %q", x.StageType)
	}
	if x.FeatureType != "HAAR" {
		return nil, errors.Wrapf(ErrUnsupported, "feature type %q", x.FeatureType)
	}
	if x.Width <= 2 || x.Height <= 2 {
		return nil, errors.Wrapf(ErrUnsupported, "window %dx%d", x.Width, x.Height)
	}
	if len(x.Stages) == 0 || len(x.Features) == 0 {
		return nil, errors.Wrap(ErrUnsupported, "cascade has no stages")
	}

	c := &Cascade{
		width:    x.Width,
		height:   x.Height,
		features: make([]haarFeature, len(x.Features)),
		stages:   make([]stage, len(x.Stages)),
	}
	for i, xf := range x.Features {
		if xf.Tilted != 0 {
			return nil, errors.Wrapf(ErrUnsupported, "feature %d is tilted", i)
		}
		f, err := parseFeature(xf, x.Width, x.Height)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %d", i)
		}
		c.features[i] = f
	}
	for i, xs := range x.Stages {
		st := stage{threshold: xs.Threshold, weak: make([]weakClassifier, len(xs.Weak))}
		for j, xw := range xs.Weak {
			wc, err := parseWeak(xw, len(c.features))
			if err != nil {
				return nil, errors.Wrapf(err, "stage %d, classifier %d", i, j)
			}
			st.weak[j] = wc
		}
		c.stages[i] = st
	}
	return c, nil
}

func parseFeature(xf xmlFeature, width, height int) (haarFeature, error) {
	if len(xf.Rects) == 0 {
		return haarFeature{}, errors.New("no rectangles")
	}
	f := haarFeature{rects: make([]haarRect, len(xf.Rects))}
	for k, s := range xf.Rects {
		v, err := parseFloats(s, 5)
		if err != nil {
			return haarFeature{}, err
		}
		r := haarRect{x: int(v[0]), y: int(v[1]), w: int(v[2]), h: int(v[3]), weight: v[4]}
		if r.x < 0 || r.y < 0 || r.w <= 0 || r.h <= 0 || r.x+r.w > width || r.y+r.h > height {
			return haarFeature{}, errors.Errorf("rectangle %q outside the %dx%d window", strings.TrimSpace(s), width, height)
		}
		f.rects[k] = r
	}
	return f, nil
}

func parseWeak(xw xmlWeak, nfeatures int) (weakClassifier, error) {
	raw, err := parseFloats(xw.InternalNodes, -1)
	if err != nil {
		return weakClassifier{}, err
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return weakClassifier{}, errors.Errorf("internal nodes hold %d values", len(raw))
	}
	leaves, err := parseFloats(xw.LeafValues, -1)
	if err != nil {
		return weakClassifier{}, err
	}

	wc := weakClassifier{nodes: make([]treeNode, len(raw)/4), leaves: leaves}
	for i := range wc.nodes {
		n := treeNode{
			left:      int(raw[i*4]),
			right:     int(raw[i*4+1]),
			feature:   int(raw[i*4+2]),
			threshold: raw[i*4+3],
		}
		if n.feature < 0 || n.feature >= nfeatures {
			return weakClassifier{}, errors.Errorf("node %d references feature %d", i, n.feature)
		}
		for _, child := range []int{n.left, n.right} {
			if child > 0 && (child <= i || child >= len(wc.nodes)) || child <= 0 && -child >= len(leaves) {
				return weakClassifier{}, errors.Errorf("node %d has a dangling child %d", i, child)
			}
		}
		wc.nodes[i] = n
	}
	return wc, nil
}

// parseFloats splits a whitespace separated list of numbers. A positive
// want enforces the number of values.
func parseFloats(s string, want int) ([]float64, error) {
	fields := strings.Fields(s)
	if want > 0 && len(fields) != want {
		return nil, errors.Errorf("expected %d values, got %d", want, len(fields))
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "value %q", f)
		}
		out[i] = v
	}
	return out, nil
}
