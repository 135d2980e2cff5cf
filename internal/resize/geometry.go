package resize

import "math"

// TargetSize computes the dimensions a srcW x srcH image is scaled to when
// resized into a width x height box with the given strategies. Exact is not
// handled here, see PaddedSize.
//
// With Cover the result covers the box and has to be center cropped to
// CropSize afterwards.
func TargetSize(srcW, srcH, width, height int, ss Strategies) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}

	if ss.Has(Stretch) {
		w, h := width, height
		if ss.Has(ShrinkOnly) {
			w = round(float64(srcW) * math.Min(1, float64(width)/float64(srcW)))
			h = round(float64(srcH) * math.Min(1, float64(height)/float64(srcH)))
		}
		return atLeastOne(w), atLeastOne(h)
	}

	scales := make([]float64, 0, 3)
	if width > 0 {
		scales = append(scales, float64(width)/float64(srcW))
	}
	if height > 0 {
		scales = append(scales, float64(height)/float64(srcH))
	}
	if len(scales) == 0 {
		return srcW, srcH
	}

	if ss.Has(OrBigger) || ss.Has(Cover) {
		scales = []float64{maxOf(scales)}
	}

	// Fitting within the box never enlarges the source.
	if ss.Has(ShrinkOnly) || (!ss.Has(OrBigger) && !ss.Has(Cover)) {
		scales = append(scales, 1)
	}

	scale := minOf(scales)
	return atLeastOne(round(float64(srcW) * scale)),
		atLeastOne(round(float64(srcH) * scale))
}

// CropSize is the box a covering image gets cropped to.
func CropSize(scaledW, scaledH, width, height int) (int, int) {
	return min(scaledW, width), min(scaledH, height)
}

// PaddedSize computes the size of the image placed on an exact canvas:
// first shrunk to the box width, then independently to the box height,
// keeping the aspect ratio in both steps.
func PaddedSize(srcW, srcH, width, height int) (int, int) {
	w, h := srcW, srcH
	if w > width {
		h = atLeastOne(round(float64(h) * float64(width) / float64(w)))
		w = width
	}
	if h > height {
		w = atLeastOne(round(float64(w) * float64(height) / float64(h)))
		h = height
	}
	return w, h
}

// CenterOffset is the integer-truncated offset centering inner within outer.
func CenterOffset(outer, inner int) int {
	return (outer - inner) / 2
}

func round(v float64) int {
	return int(math.Round(v))
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Max(m, v)
	}
	return m
}
