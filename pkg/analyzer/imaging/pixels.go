package imaging

import (
	"image"
	"image/color"
)

const (
	ChannelRed   = "Red"
	ChannelGreen = "Green"
	ChannelBlue  = "Blue"
	ChannelAlpha = "Alpha"
	ChannelGray  = "Gray"
)

// Channel holds one 8-bit sample plane in raster-scan order.
type Channel struct {
	Name   string
	Values []uint8
}

// PixelBuffer is a decoded frame split per channel, independent of any container.
type PixelBuffer struct {
	Width    int
	Height   int
	Channels []Channel
}

// FromImage splits img into channels. Gray images yield a single Gray channel,
// others Red, Green, Blue plus Alpha when img is not opaque.
func FromImage(img image.Image) (pb PixelBuffer) {
	b := img.Bounds()
	pb.Width, pb.Height = b.Dx(), b.Dy()
	n := pb.Width * pb.Height

	switch g := img.(type) {
	case *image.Gray:
		values := make([]uint8, 0, n)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			values = append(values, g.Pix[off:off+pb.Width]...)
		}
		pb.Channels = []Channel{{Name: ChannelGray, Values: values}}
		return
	case *image.Gray16:
		values := make([]uint8, 0, n)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				values = append(values, color.GrayModel.Convert(g.At(x, y)).(color.Gray).Y)
			}
		}
		pb.Channels = []Channel{{Name: ChannelGray, Values: values}}
		return
	}

	withAlpha := !isOpaque(img)
	r, gr, bl := make([]uint8, 0, n), make([]uint8, 0, n), make([]uint8, 0, n)
	var a []uint8
	if withAlpha {
		a = make([]uint8, 0, n)
	}
	appendPix := func(pix []uint8) {
		r = append(r, pix[0])
		gr = append(gr, pix[1])
		bl = append(bl, pix[2])
		if withAlpha {
			a = append(a, pix[3])
		}
	}

	switch m := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := m.PixOffset(b.Min.X, y)
			for x := 0; x < pb.Width; x++ {
				appendPix(m.Pix[off+4*x : off+4*x+4])
			}
		}
	case *image.RGBA:
		if withAlpha {
			genericPixels(m, appendPix)
			break
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := m.PixOffset(b.Min.X, y)
			for x := 0; x < pb.Width; x++ {
				appendPix(m.Pix[off+4*x : off+4*x+4])
			}
		}
	default:
		genericPixels(img, appendPix)
	}

	pb.Channels = []Channel{
		{Name: ChannelRed, Values: r},
		{Name: ChannelGreen, Values: gr},
		{Name: ChannelBlue, Values: bl},
	}
	if withAlpha {
		pb.Channels = append(pb.Channels, Channel{Name: ChannelAlpha, Values: a})
	}
	return
}

func genericPixels(img image.Image, appendPix func([]uint8)) {
	b := img.Bounds()
	pix := make([]uint8, 4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			pix[0], pix[1], pix[2], pix[3] = c.R, c.G, c.B, c.A
			appendPix(pix)
		}
	}
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return true
}
