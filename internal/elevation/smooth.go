package elevation

// kernel is a 7-tap smoothing filter; its weights sum to kernelSum.
var kernel = [7]float64{-2, 3, 6, 7, 6, 3, -2}

const kernelSum = 21

// Smooth filters the elevations of samples with kernel. The first and last
// three samples are copied unchanged and negative results are clamped to 0.
func Smooth(samples []Sample) []Sample {
	if len(samples) == 0 {
		return nil
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	for i := 3; i < len(samples)-3; i++ {
		var acc float64
		for k, w := range kernel {
			acc += w * samples[i-3+k].Elevation
		}
		out[i].Elevation = acc / kernelSum
	}
	for i := range out {
		if out[i].Elevation < 0 {
			out[i].Elevation = 0
		}
	}
	return out
}

// Summarize returns cumulative ascent and descent and the extrema of
// samples. An empty profile summarizes to zeros.
func Summarize(samples []Sample) (gain, loss, highest, lowest float64) {
	if len(samples) == 0 {
		return 0, 0, 0, 0
	}
	highest, lowest = lowestPoint, highestPoint
	for i, s := range samples {
		if i > 0 {
			d := s.Elevation - samples[i-1].Elevation
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		if s.Elevation > highest {
			highest = s.Elevation
		}
		if s.Elevation < lowest {
			lowest = s.Elevation
		}
	}
	return gain, loss, highest, lowest
}
