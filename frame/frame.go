// Package frame locates character frames in a 2x-oversampled RTTY sample
// stream. A frame is 15 samples: two start-bit samples (expected 1), five
// data bits of two samples each, and three samples for the 1.5 stop bits
// (expected 0). There is no clock reference, so every candidate alignment in
// the first half of the buffer is scored and the best one wins.
package frame

const (
	// Size is the number of samples in one character frame.
	Size = 15
	// Candidates is the number of alignments evaluated per search.
	Candidates = 14
	// MinBuffered is the number of samples required before a search runs.
	// Offsets 0..13 only need 28 samples; the extra sample matches the
	// threshold deployed receivers have always used.
	MinBuffered = 29
	// DataOffset is the index of the first data sample inside a frame.
	DataOffset = 2
	// DataSamples is the number of data samples (5 bits, 2 samples each).
	DataSamples = 10
	// MaxScore is the score of a perfectly aligned frame.
	MaxScore = 15

	startSamples = 2
	stopOffset   = DataOffset + DataSamples
	scoreBias    = 3
)

// Result describes the winning alignment of a search.
type Result struct {
	Score  int
	Offset int
	// Ties counts every candidate whose score equals Score, including the
	// winner. It never changes which offset is chosen.
	Ties int
}

// Ambiguous reports whether more than one alignment reached the top score.
func (r Result) Ambiguous() bool {
	return r.Ties > 1
}

// Score rates how well window lines up with a frame. Start samples at 1 and
// stop samples at 0 each add two points; each data bit whose two samples
// agree adds one point. window must hold at least Size samples.
func Score(window []byte) int {
	_ = window[Size-1]
	edges := scoreBias + int(window[0]) + int(window[1]) -
		int(window[stopOffset]) - int(window[stopOffset+1]) - int(window[stopOffset+2])
	pairs := 0
	for i := DataOffset; i < stopOffset; i += 2 {
		if window[i] == window[i+1] {
			pairs++
		}
	}
	return 2*edges + pairs
}

// FindBest scores offsets 0..Candidates-1 and returns the highest-scoring
// one, preferring the earliest offset on ties. ok is false when fewer than
// MinBuffered samples are available.
func FindBest(samples []byte) (res Result, ok bool) {
	if len(samples) < MinBuffered {
		return Result{}, false
	}
	res = Result{Score: -1, Offset: -1}
	for p := 0; p < Candidates; p++ {
		v := Score(samples[p : p+Size])
		switch {
		case v > res.Score:
			res.Score = v
			res.Offset = p
			res.Ties = 1
		case v == res.Score:
			res.Ties++
		}
	}
	return res, true
}

// Data returns the data samples of the frame starting at offset.
func Data(samples []byte, offset int) []byte {
	start := offset + DataOffset
	return samples[start : start+DataSamples : start+DataSamples]
}

// Consumed returns how many samples a frame at offset occupies from the
// front of the buffer, including the slack before its start bit.
func Consumed(offset int) int {
	return offset + Size
}
