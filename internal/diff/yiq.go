package diff

// colorDelta returns the squared YIQ distance between two NRGBA pixels after
// blending any translucency onto white.
func colorDelta(p1, p2 []uint8) float64 {
	if p1[0] == p2[0] && p1[1] == p2[1] && p1[2] == p2[2] && p1[3] == p2[3] {
		return 0
	}
	r1, g1, b1 := blendWhite(p1)
	r2, g2, b2 := blendWhite(p2)

	y := rgb2y(r1, g1, b1) - rgb2y(r2, g2, b2)
	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)

	return 0.5053*y*y + 0.299*i*i + 0.1957*q*q
}

func blendWhite(p []uint8) (float64, float64, float64) {
	r, g, b := float64(p[0]), float64(p[1]), float64(p[2])
	if p[3] == 255 {
		return r, g, b
	}
	a := float64(p[3]) / 255
	return 255 + (r-255)*a, 255 + (g-255)*a, 255 + (b-255)*a
}

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }
