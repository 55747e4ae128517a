package photometry

import (
	"fmt"
	"image"
	"math"
	"sort"
)

// StackImage is the aligned, stacked exposure of the night, used for PSF
// fitting and the field-star figure.
type StackImage struct {
	Mat      Mat
	Width    int
	Height   int
	Metadata *FitsMetadata
}

// LoadStack reads a stack FITS file into a normalized float32 matrix.
func LoadStack(path string) (*StackImage, error) {
	data, err := ReadFits(path)
	if err != nil {
		return nil, fmt.Errorf("loading stack: %w", err)
	}
	return &StackImage{
		Mat:      ToFloat32Mat(data.Pixels, data.BitDepth, data.Width, data.Height),
		Width:    data.Width,
		Height:   data.Height,
		Metadata: data.Metadata,
	}, nil
}

func (s *StackImage) Close() {
	s.Mat.Close()
}

// ToFloat32Mat converts a uint16 pixel array to a float32 Mat normalized to
// [0, 1].
func ToFloat32Mat(pixels []uint16, bpp, width, height int) Mat {
	data := NewMatWithSize(height, width)
	dest := data.DataFloat32()
	scalingRatio := float32(uint32(1) << uint(bpp))
	numPixels := width * height
	for i := 0; i < numPixels; i++ {
		dest[i] = float32(pixels[i]) / scalingRatio
	}
	return data
}

// BilinearSamplePixelValue samples the image at a fractional pixel position.
// Coordinates outside the image clamp to the border.
func BilinearSamplePixelValue(img Mat, y, x float64) float64 {
	rows, cols := img.Rows(), img.Cols()
	data := img.DataFloat32()

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	clampIdx := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v >= hi {
			return hi - 1
		}
		return v
	}
	x0c, x1c := clampIdx(x0, cols), clampIdx(x0+1, cols)
	y0c, y1c := clampIdx(y0, rows), clampIdx(y0+1, rows)

	v00 := float64(data[y0c*cols+x0c])
	v01 := float64(data[y0c*cols+x1c])
	v10 := float64(data[y1c*cols+x0c])
	v11 := float64(data[y1c*cols+x1c])

	return v00*(1-fx)*(1-fy) + v01*fx*(1-fy) + v10*(1-fx)*fy + v11*fx*fy
}

// Cutout returns an owned copy of a square region of side size centered at
// center, clamped to the image bounds, along with the region origin in
// image coordinates.
func (s *StackImage) Cutout(center Point2d, size int) (Mat, image.Point) {
	half := size / 2
	r := image.Rect(
		int(center.X)-half, int(center.Y)-half,
		int(center.X)+half, int(center.Y)+half,
	).Intersect(image.Rect(0, 0, s.Width, s.Height))
	region := s.Mat.Region(r)
	out := region.Clone()
	region.Close()
	return out, r.Min
}

// RadialProfile returns distance-from-center and pixel value pairs for all
// pixels within n pixels of center, sorted by radius.
func (s *StackImage) RadialProfile(center Point2d, n float64) (radii, values []float64) {
	x0 := int(math.Max(0, center.X-n))
	y0 := int(math.Max(0, center.Y-n))
	x1 := int(math.Min(float64(s.Width), center.X+n))
	y1 := int(math.Min(float64(s.Height), center.Y+n))

	data := s.Mat.DataFloat32()
	type rp struct{ r, v float64 }
	var pts []rp
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			dx := float64(x) - center.X
			dy := float64(y) - center.Y
			r := math.Sqrt(dx*dx + dy*dy)
			if r > n {
				continue
			}
			pts = append(pts, rp{r, float64(data[y*s.Width+x])})
		}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].r < pts[j].r })
	radii = make([]float64, len(pts))
	values = make([]float64, len(pts))
	for i, p := range pts {
		radii[i] = p.r
		values[i] = p.v
	}
	return radii, values
}

// DisplayStretch maps the stack to an 8-bit grayscale image with a
// median-filtered mean/sigma cut, clipping hot pixels so stars stay visible.
func (s *StackImage) DisplayStretch() *image.Gray {
	blurred := NewMat()
	medianBlur(s.Mat, &blurred, 3)
	mean, std := matMeanStdDev(blurred)
	blurred.Close()

	low := mean - 0.5*std
	high := mean + 6*std
	if high <= low {
		high = low + 1e-6
	}

	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	data := s.Mat.DataFloat32()
	for i, v := range data[:s.Width*s.Height] {
		t := (float64(v) - low) / (high - low)
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		img.Pix[i] = uint8(t * 255)
	}
	return img
}
