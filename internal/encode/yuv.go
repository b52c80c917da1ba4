package encode

import "github.com/wireless-road/detector/internal/types"

// YUVFrame is a planar YUV444 frame: one full-resolution plane per
// component. The hardware encoder's contract only requires planar YUV at
// ceil16(width) x ceil16(height); this package keeps the three planes at
// full, unsubsampled resolution so overlay drawing is a simple per-pixel
// operation (spec §9's "overlay color approximation" note leaves the exact
// chroma layout unspecified).
type YUVFrame struct {
	Width, Height int
	Y, U, V       []byte
}

// NewYUVFrame allocates a zeroed (luma=0) frame of the given size.
func NewYUVFrame(width, height int) *YUVFrame {
	n := width * height
	return &YUVFrame{Width: width, Height: height, Y: make([]byte, n), U: make([]byte, n), V: make([]byte, n)}
}

// RGBToYUV converts a packed RGB24 buffer to a planar YUVFrame using the
// BT.601 full-range conversion, per spec §9's "any correct RGB-to-YUV
// BT.601 conversion is acceptable provided tests accept +/-1".
func RGBToYUV(rgb []byte, width, height int) *YUVFrame {
	f := NewYUVFrame(width, height)
	for i := 0; i < width*height; i++ {
		r := float64(rgb[i*3])
		g := float64(rgb[i*3+1])
		b := float64(rgb[i*3+2])
		y, u, v := rgbToYUVTriple(r, g, b)
		f.Y[i] = y
		f.U[i] = u
		f.V[i] = v
	}
	return f
}

func rgbToYUVTriple(r, g, b float64) (y, u, v byte) {
	yf := 0.299*r + 0.587*g + 0.114*b
	uf := -0.168736*r - 0.331264*g + 0.5*b + 128
	vf := 0.5*r - 0.418688*g - 0.081312*b + 128
	return clampByte(yf), clampByte(uf), clampByte(vf)
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// colorTable holds the pre-computed YUV triple for each box type's overlay
// color: red for Person, green for Pet, blue for Vehicle, per spec §4.5
// step 2.
type colorTable map[types.BoxType][3]byte

// buildColorTable computes the table once at startup, per spec §9.
func buildColorTable() colorTable {
	red := func() [3]byte { y, u, v := rgbToYUVTriple(255, 0, 0); return [3]byte{y, u, v} }()
	green := func() [3]byte { y, u, v := rgbToYUVTriple(0, 255, 0); return [3]byte{y, u, v} }()
	blue := func() [3]byte { y, u, v := rgbToYUVTriple(0, 0, 255); return [3]byte{y, u, v} }()
	return colorTable{
		types.Person:  red,
		types.Pet:     green,
		types.Vehicle: blue,
		types.Unknown: red,
	}
}

// drawYUVBox draws a thickness-px rectangle outline of box (x,y,w,h) into
// frame's Y/U/V planes in the given color, clipped to frame bounds, per
// spec §4.5 step 2.
func drawYUVBox(frame *YUVFrame, x, y, w, h, thickness int, color [3]byte) {
	for py := y; py < y+h; py++ {
		if py < 0 || py >= frame.Height {
			continue
		}
		for px := x; px < x+w; px++ {
			if px < 0 || px >= frame.Width {
				continue
			}
			onBorder := px < x+thickness || px >= x+w-thickness || py < y+thickness || py >= y+h-thickness
			if !onBorder {
				continue
			}
			idx := py*frame.Width + px
			frame.Y[idx] = color[0]
			frame.U[idx] = color[1]
			frame.V[idx] = color[2]
		}
	}
}
