package audio

// Resampler converts a block stream between sample rates by nearest-sample
// stepping. No anti-aliasing filter is applied. The fractional read position
// carries across blocks so consecutive calls produce a continuous stream.
type Resampler struct {
	from int
	to   int
	pos  float64
}

// NewResampler returns a resampler from one rate to another.
func NewResampler(from, to int) *Resampler {
	return &Resampler{from: from, to: to}
}

// Passthrough reports whether the rates match.
func (r *Resampler) Passthrough() bool {
	return r.from == r.to || r.from <= 0 || r.to <= 0
}

// Process resamples one block. The returned slice is newly allocated.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() {
		return append([]float32(nil), in...)
	}
	step := float64(r.from) / float64(r.to)
	out := make([]float32, 0, int(float64(len(in))/step)+1)
	for r.pos < float64(len(in)) {
		out = append(out, in[int(r.pos)])
		r.pos += step
	}
	r.pos -= float64(len(in))
	return out
}

// Resample converts a complete signal in one call.
func Resample(in []float32, from, to int) []float32 {
	return NewResampler(from, to).Process(in)
}
