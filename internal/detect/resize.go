package detect

// resizeBilinear resizes a packed RGB24 image (srcW x srcH x 3) to
// dstW x dstH x 3 using bilinear interpolation, per spec §4.3 step "prep".
func resizeBilinear(src []byte, srcW, srcH, dstW, dstH int) []byte {
	dst := make([]byte, dstW*dstH*3)
	if srcW <= 1 || srcH <= 1 {
		return dst
	}

	xRatio := float64(srcW-1) / float64(dstW)
	yRatio := float64(srcH-1) / float64(dstH)

	for y := 0; y < dstH; y++ {
		srcY := float64(y) * yRatio
		y0 := int(srcY)
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = srcH - 1
		}
		yFrac := srcY - float64(y0)

		for x := 0; x < dstW; x++ {
			srcX := float64(x) * xRatio
			x0 := int(srcX)
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = srcW - 1
			}
			xFrac := srcX - float64(x0)

			for c := 0; c < 3; c++ {
				p00 := float64(src[(y0*srcW+x0)*3+c])
				p01 := float64(src[(y0*srcW+x1)*3+c])
				p10 := float64(src[(y1*srcW+x0)*3+c])
				p11 := float64(src[(y1*srcW+x1)*3+c])

				top := p00 + (p01-p00)*xFrac
				bottom := p10 + (p11-p10)*xFrac
				v := top + (bottom-top)*yFrac

				dst[(y*dstW+x)*3+c] = byte(v + 0.5)
			}
		}
	}
	return dst
}

// ceil16 rounds n up to the next multiple of 16, matching the detector's
// expected-buffer-size precomputation in spec §4.3.
func ceil16(n int) int {
	return (n + 15) &^ 15
}
