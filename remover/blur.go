package remover

// stackBlur blurs a single channel w x h buffer with the stack blur kernel:
// the weight of a neighbour at distance k is radius+1-k. The kernel is
// applied as two running sums of width radius+1 per axis, clamping at the
// edges, and the result is rounded.
func stackBlur(src []uint8, w, h, radius int) []uint8 {
	tmp := make([]uint8, len(src))
	line := make([]int, max(w, h))
	out := make([]int, max(w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			line[x] = int(src[y*w+x])
		}
		blurLine(line[:w], out[:w], radius)
		for x := 0; x < w; x++ {
			tmp[y*w+x] = uint8(out[x])
		}
	}

	dst := make([]uint8, len(src))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			line[y] = int(tmp[y*w+x])
		}
		blurLine(line[:h], out[:h], radius)
		for y := 0; y < h; y++ {
			dst[y*w+x] = uint8(out[y])
		}
	}
	return dst
}

func blurLine(in, out []int, radius int) {
	n := len(in)
	at := func(j int) int {
		return in[min(max(j-radius, 0), n-1)]
	}
	div := (radius + 1) * (radius + 1)

	// box[j] sums the padded line over [j, j+radius].
	box := make([]int, n+radius)
	sum := 0
	for a := 0; a <= radius; a++ {
		sum += at(a)
	}
	for j := range box {
		box[j] = sum
		sum += at(j+radius+1) - at(j)
	}

	sum = 0
	for b := 0; b <= radius; b++ {
		sum += box[b]
	}
	for x := 0; x < n; x++ {
		out[x] = (sum + div/2) / div
		if x+radius+1 < len(box) {
			sum += box[x+radius+1] - box[x]
		}
	}
}
