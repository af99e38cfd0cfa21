package texture

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// TGA image types handled by DecodeTGA.
const (
	tgaTypeTrueColor    = 2
	tgaTypeTrueColorRLE = 10
)

const tgaHeaderSize = 18

// ErrTruncatedTGA is returned when pixel data ends early.
var ErrTruncatedTGA = errors.New("texture: truncated TGA data")

// DecodeTGA decodes an uncompressed or RLE true-color TGA at 24 or 32 bits per
// pixel. Files without the top-to-bottom descriptor bit are flipped so row 0
// is the top of the returned image.
func DecodeTGA(data []byte) (*image.RGBA, error) {
	if len(data) < tgaHeaderSize {
		return nil, ErrTruncatedTGA
	}

	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bpp := int(data[16])
	topToBottom := data[17]&0x20 != 0

	if colorMapType != 0 {
		return nil, fmt.Errorf("texture: color-mapped TGA not supported")
	}
	if imageType != tgaTypeTrueColor && imageType != tgaTypeTrueColorRLE {
		return nil, fmt.Errorf("texture: unsupported TGA type %d", imageType)
	}
	if bpp != 24 && bpp != 32 {
		return nil, fmt.Errorf("texture: unsupported TGA bit depth %d", bpp)
	}
	offset := tgaHeaderSize + idLength
	if offset > len(data) {
		return nil, ErrTruncatedTGA
	}

	px := &tgaPixels{
		img:         image.NewRGBA(image.Rect(0, 0, width, height)),
		src:         data[offset:],
		stride:      bpp / 8,
		width:       width,
		height:      height,
		topToBottom: topToBottom,
	}

	var err error
	if imageType == tgaTypeTrueColor {
		err = px.decodeRaw()
	} else {
		err = px.decodeRLE()
	}
	if err != nil {
		return nil, err
	}
	return px.img, nil
}

// tgaPixels walks BGR(A) source pixels into an RGBA image.
type tgaPixels struct {
	img         *image.RGBA
	src         []byte
	pos         int
	stride      int
	width       int
	height      int
	topToBottom bool
	written     int
}

func (p *tgaPixels) next() (color.RGBA, bool) {
	if p.pos+p.stride > len(p.src) {
		return color.RGBA{}, false
	}
	s := p.src[p.pos:]
	c := color.RGBA{R: s[2], G: s[1], B: s[0], A: 255}
	if p.stride == 4 {
		c.A = s[3]
	}
	p.pos += p.stride
	return c, true
}

func (p *tgaPixels) put(c color.RGBA) {
	x := p.written % p.width
	y := p.written / p.width
	if !p.topToBottom {
		y = p.height - 1 - y
	}
	p.img.SetRGBA(x, y, c)
	p.written++
}

func (p *tgaPixels) decodeRaw() error {
	total := p.width * p.height
	if len(p.src) < total*p.stride {
		return ErrTruncatedTGA
	}
	for p.written < total {
		c, _ := p.next()
		p.put(c)
	}
	return nil
}

func (p *tgaPixels) decodeRLE() error {
	total := p.width * p.height
	for p.written < total {
		if p.pos >= len(p.src) {
			return ErrTruncatedTGA
		}
		header := p.src[p.pos]
		p.pos++
		count := int(header&0x7F) + 1

		if header&0x80 != 0 {
			c, ok := p.next()
			if !ok {
				return ErrTruncatedTGA
			}
			for i := 0; i < count && p.written < total; i++ {
				p.put(c)
			}
			continue
		}
		for i := 0; i < count && p.written < total; i++ {
			c, ok := p.next()
			if !ok {
				return ErrTruncatedTGA
			}
			p.put(c)
		}
	}
	return nil
}

// IsMagentaKey reports whether an RGB color is the magenta transparency key.
// The tolerance absorbs BMP decoder rounding.
func IsMagentaKey(r, g, b uint8) bool {
	return r >= 250 && g <= 10 && b >= 250
}

// ToRGBA converts img to RGBA, turning magenta key pixels into transparent
// black when keyMagenta is set.
func ToRGBA(img image.Image, keyMagenta bool) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			if keyMagenta && IsMagentaKey(c.R, c.G, c.B) {
				c = color.RGBA{}
			}
			rgba.SetRGBA(x, y, c)
		}
	}
	return rgba
}
