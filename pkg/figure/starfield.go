package figure

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"photreport/pkg/photometry"
)

// StarField renders the stretched stack image with the photometric aperture
// drawn on the target and every comparison star, each labeled with its star
// index. Writes a PNG to outputPath.
func StarField(obs *photometry.Observation, outputPath string) error {
	img, err := renderStarField(obs)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create star field file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding star field: %w", err)
	}
	return nil
}

func renderStarField(obs *photometry.Observation) (*image.RGBA, error) {
	if obs.Stack == nil {
		return nil, photometry.ErrNoStack
	}
	radius, err := obs.ApertureRadius()
	if err != nil {
		return nil, err
	}

	gray := obs.Stack.DisplayStretch()
	img := image.NewRGBA(gray.Bounds())
	draw.Draw(img, img.Bounds(), gray, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	faint := color.RGBA{R: 200, G: 200, B: 200, A: 220}
	targetColor := color.RGBA{R: 255, G: 120, B: 60, A: 255}

	// Faint markers on every detected star keep the frame recognizable.
	for i, s := range obs.Stars {
		if i == obs.TargetIndex {
			continue
		}
		drawCircle(img, int(s.X), int(s.Y), 3, color.RGBA{R: 130, G: 130, B: 130, A: 160})
	}

	r := int(math.Round(radius))
	for _, c := range obs.Comparison {
		s := obs.Stars[c]
		drawCircle(img, int(s.X), int(s.Y), r, faint)
		drawText(img, face, fmt.Sprintf("%d", c), int(s.X)+r+3, int(s.Y), faint)
	}

	t := obs.Stars[obs.TargetIndex]
	drawCircle(img, int(t.X), int(t.Y), r, targetColor)
	drawText(img, face, "target", int(t.X)+r+3, int(t.Y), targetColor)

	if obs.AnnulusRin != nil && obs.AnnulusRout != nil {
		drawCircle(img, int(t.X), int(t.Y), int(math.Round(*obs.AnnulusRin)), faint)
		drawCircle(img, int(t.X), int(t.Y), int(math.Round(*obs.AnnulusRout)), faint)
	}

	footer := fmt.Sprintf("%s  ·  aperture %.1f px  ·  %.2f\"/px",
		obs.Target.Name, radius, obs.Telescope.PixelScale)
	drawText(img, face, footer, 10, img.Bounds().Dy()-10, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	return img, nil
}

// drawText draws a string at (x, y) using the given font face.
func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawCircle draws a circle outline using the midpoint algorithm.
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	x := radius
	y := 0
	err := 0

	for x >= y {
		img.Set(cx+x, cy+y, c)
		img.Set(cx+y, cy+x, c)
		img.Set(cx-y, cy+x, c)
		img.Set(cx-x, cy+y, c)
		img.Set(cx-x, cy-y, c)
		img.Set(cx-y, cy-x, c)
		img.Set(cx+y, cy-x, c)
		img.Set(cx+x, cy-y, c)

		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}
