package trap

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// receipt canvas dimensions, portrait phone aspect.
const (
	receiptWidth  = 540
	receiptHeight = 960
)

// successGreen is the payment-success background color.
var successGreen = color.RGBA{R: 0x00, G: 0xC8, B: 0x53, A: 0xFF}

// FileRenderer writes generated proof images into the static artifact
// directory served by the proof endpoint.
type FileRenderer struct {
	dir string
}

// NewFileRenderer creates the artifact directory if needed.
func NewFileRenderer(dir string) (*FileRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &FileRenderer{dir: dir}, nil
}

// RenderReceipt produces a payment-success image for the given amount and
// handle, returning the generated filename.
func (r *FileRenderer) RenderReceipt(ctx context.Context, amount, handle string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img := image.NewRGBA(image.Rect(0, 0, receiptWidth, receiptHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(successGreen), image.Point{}, draw.Src)

	txnID := "T" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	lines := []string{
		"Payment Successful",
		"Rs. " + amount,
		"To: " + handle,
		"Txn ID: " + txnID,
	}
	for i, line := range lines {
		drawLine(img, line, receiptHeight/3+i*40)
	}

	filename := "proof_" + uuid.New().String()[:8] + ".png"
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	return filename, nil
}

// drawLine renders one horizontally centered text line at the given baseline.
func drawLine(img *image.RGBA, text string, y int) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()

	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P((receiptWidth-width)/2, y),
	}
	d.DrawString(text)
}
