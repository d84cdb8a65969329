package certificates

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	types "github.com/yungbote/headless-lms/internal/domain"
)

// Layout is the text placement of one certificate. Positions are fractions
// of the background's width and height.
type Layout struct {
	Name         string
	Date         time.Time
	Verification string
	Locale       string
}

// Render draws the name, completion date and verification id onto the
// background and returns the PNG bytes.
func Render(cfg *types.CertificateConfiguration, background, fontBytes []byte, l Layout) ([]byte, error) {
	bg, _, err := image.Decode(bytes.NewReader(background))
	if err != nil {
		return nil, fmt.Errorf("decode background: %w", err)
	}
	if len(fontBytes) == 0 {
		fontBytes = goregular.TTF
	}
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}

	dc := gg.NewContextForImage(bg)
	w, h := float64(dc.Width()), float64(dc.Height())
	dc.SetHexColor(textColor(cfg.TextColor))

	draw := func(text string, size, x, y float64) {
		dc.SetFontFace(truetype.NewFace(parsed, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone}))
		dc.DrawStringAnchored(text, x*w, y*h, 0.5, 0.5)
	}
	draw(l.Name, cfg.NameFontSize, cfg.NamePosX, cfg.NamePosY)
	draw(formatDate(l.Date, l.Locale), cfg.DateFontSize, cfg.DatePosX, cfg.DatePosY)
	draw(l.Verification, cfg.VerificationFontSize, cfg.VerificationPosX, cfg.VerificationPosY)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func textColor(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "#000000"
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	return s
}

func formatDate(t time.Time, locale string) string {
	switch strings.ToLower(strings.SplitN(locale, "-", 2)[0]) {
	case "fi", "de":
		return t.Format("2.1.2006")
	default:
		return t.Format("January 2, 2006")
	}
}
