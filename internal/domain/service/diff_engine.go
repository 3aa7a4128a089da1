package service

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

// DefaultThreshold чувствительность сравнения по умолчанию
const DefaultThreshold = 0.1

// maxYIQDelta максимально возможное значение yiqDelta (черный против белого)
const maxYIQDelta = 35215.0

// diffFadeAlpha прозрачность baseline под подсветкой различий
const diffFadeAlpha = 0.1

var mismatchColor = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

// DiffResult результат попиксельного сравнения двух изображений
type DiffResult struct {
	MismatchCount int
	TotalPixels   int
	// MatchPercentage доля несовпавших пикселей, 0..100, без округления
	MatchPercentage float64
	// DimensionMismatch размеры не совпали, сравнение не выполнялось
	DimensionMismatch bool
	// DiffImage есть только при MismatchCount > 0
	DiffImage *image.NRGBA
}

// HasDiff сообщает, нужно ли сохранять diff-изображение
func (r DiffResult) HasDiff() bool {
	return r.DiffImage != nil && r.MismatchCount > 0
}

// Status переводит результат сравнения в статус теста.
// Несовпадение размеров всегда FAIL, иначе PASS только при нуле различий.
func (r DiffResult) Status() valueobject.TestStatus {
	if r.DimensionMismatch || r.MatchPercentage > 0 {
		return valueobject.StatusFail
	}
	return valueobject.StatusPass
}

// DiffEngine сравнивает изображения с фиксированным порогом (Domain Service).
// Не имеет состояния кроме порога, безопасен для конкурентного использования.
type DiffEngine struct {
	threshold float64
}

// NewDiffEngine создает DiffEngine, threshold должен быть в [0, 1]
func NewDiffEngine(threshold float64) (*DiffEngine, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	return &DiffEngine{threshold: threshold}, nil
}

func (e *DiffEngine) Threshold() float64 {
	return e.threshold
}

// Compare сравнивает baseline и latest с порогом движка
func (e *DiffEngine) Compare(baseline, latest image.Image) DiffResult {
	return Compare(baseline, latest, e.threshold)
}

// ValidateThreshold проверяет диапазон порога
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %v", threshold)
	}
	return nil
}

// Compare попиксельно сравнивает изображения.
// Расстояние: взвешенная по яркости дельта в YIQ для пикселей, смешанных с белым фоном.
// Пиксель считается несовпавшим, если дельта превышает 35215 * threshold^2.
func Compare(baseline, latest image.Image, threshold float64) DiffResult {
	bb, lb := baseline.Bounds(), latest.Bounds()
	if bb.Dx() != lb.Dx() || bb.Dy() != lb.Dy() {
		return DiffResult{
			TotalPixels:       bb.Dx() * bb.Dy(),
			DimensionMismatch: true,
		}
	}

	width, height := bb.Dx(), bb.Dy()
	total := width * height
	if total == 0 {
		return DiffResult{}
	}

	base := toNRGBA(baseline)
	cur := toNRGBA(latest)
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	maxDelta := maxYIQDelta * threshold * threshold

	mismatches := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			bi := base.PixOffset(base.Rect.Min.X+x, base.Rect.Min.Y+y)
			li := cur.PixOffset(cur.Rect.Min.X+x, cur.Rect.Min.Y+y)
			oi := out.PixOffset(x, y)

			bp := base.Pix[bi : bi+4 : bi+4]
			lp := cur.Pix[li : li+4 : li+4]

			if yiqDelta(bp, lp) > maxDelta {
				mismatches++
				out.Pix[oi+0] = mismatchColor.R
				out.Pix[oi+1] = mismatchColor.G
				out.Pix[oi+2] = mismatchColor.B
				out.Pix[oi+3] = mismatchColor.A
				continue
			}

			gray := fadedLuma(bp)
			out.Pix[oi+0] = gray
			out.Pix[oi+1] = gray
			out.Pix[oi+2] = gray
			out.Pix[oi+3] = 255
		}
	}

	result := DiffResult{
		MismatchCount:   mismatches,
		TotalPixels:     total,
		MatchPercentage: 100 * float64(mismatches) / float64(total),
	}
	if mismatches > 0 {
		result.DiffImage = out
	}
	return result
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return n
}

func yiqDelta(a, b []uint8) float64 {
	if a[0] == b[0] && a[1] == b[1] && a[2] == b[2] && a[3] == b[3] {
		return 0
	}

	r1, g1, b1 := blendWhite(a)
	r2, g2, b2 := blendWhite(b)

	dr, dg, db := r1-r2, g1-g2, b1-b2
	y := dr*0.29889531 + dg*0.58662247 + db*0.11448223
	i := dr*0.59597799 - dg*0.27417610 - db*0.32180189
	q := dr*0.21147017 - dg*0.52261711 + db*0.31114694

	return 0.5053*y*y + 0.299*i*i + 0.1957*q*q
}

func blendWhite(p []uint8) (float64, float64, float64) {
	alpha := float64(p[3]) / 255
	return blend(float64(p[0]), alpha), blend(float64(p[1]), alpha), blend(float64(p[2]), alpha)
}

func blend(c, alpha float64) float64 {
	return 255 + (c-255)*alpha
}

func fadedLuma(p []uint8) uint8 {
	r, g, b := float64(p[0]), float64(p[1]), float64(p[2])
	luma := r*0.29889531 + g*0.58662247 + b*0.11448223
	v := blend(luma, diffFadeAlpha*float64(p[3])/255)
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
