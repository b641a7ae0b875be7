// image_preprocess.go - RGB line to per-note, stereo and spectral data

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Perceptual grayscale weights.
const (
	GRAY_WEIGHT_R = 0.299
	GRAY_WEIGHT_G = 0.587
	GRAY_WEIGHT_B = 0.114
)

// FFT magnitude normalization: bins are divided by (line length / this)
// so a full-scale line lands near 1.0 regardless of L.
const FFT_NORM_FACTOR = 2.0

const colorTempEpsilon = 1e-6

// fftBinCount returns the number of magnitude bins published for a line of
// the given length (DC excluded, capped at MAX_FFT_BINS).
func fftBinCount(lineLen int) int {
	bins := lineLen / 2
	if bins > MAX_FFT_BINS {
		bins = MAX_FFT_BINS
	}
	return bins
}

// Preprocessor converts one raw RGB line into an ImageLine snapshot.  It
// runs in the UDP thread and owns all its scratch memory; nothing here is
// shared with engine threads except through the LinePublisher.
type Preprocessor struct {
	cfg *Config
	pub *LinePublisher

	pixelsPerNote int
	numNotes      int
	bins          int
	fftOK         bool

	// Scratch for the FFT input (float64 because go-dsp works in float64).
	fftIn []float64

	// Per-note RGB means for the pan computation.
	noteR, noteG, noteB []float32

	// Magnitude smoothing state: a ring of the last fft_history_size raw
	// magnitude frames, their running average, and the exponentially
	// smoothed output.
	history    [][]float32
	histPos    int
	histCount  int
	histSum    []float32
	smoothed   []float32
	alpha      float32
	zoneStride int
}

func NewPreprocessor(cfg *Config, pub *LinePublisher) *Preprocessor {
	bins := fftBinCount(cfg.LineLength)
	p := &Preprocessor{
		cfg:           cfg,
		pub:           pub,
		pixelsPerNote: cfg.PixelsPerNote,
		numNotes:      cfg.NumNotes(),
		bins:          bins,
		fftOK:         bins > 0,
		fftIn:         make([]float64, cfg.LineLength),
		noteR:         make([]float32, cfg.NumNotes()),
		noteG:         make([]float32, cfg.NumNotes()),
		noteB:         make([]float32, cfg.NumNotes()),
		history:       make([][]float32, cfg.FFTHistorySize),
		histSum:       make([]float32, bins),
		smoothed:      make([]float32, bins),
		alpha:         float32(cfg.SmoothingAlpha),
	}
	for i := range p.history {
		p.history[i] = make([]float32, bins)
	}
	if cfg.DMXZones > 0 {
		p.zoneStride = cfg.LineLength / cfg.DMXZones
	}
	return p
}

// Process converts one RGB line and publishes the resulting snapshot.
// r, g, b must each hold cfg.LineLength bytes.
func (p *Preprocessor) Process(r, g, b []byte, timestampUS int64) {
	line := p.pub.WriteSlot()

	p.grayscale(r, g, b, line)
	line.ContrastFactor = contrastFactor(line.Grayscale)
	p.noteAverages(r, g, b, line)
	p.stereoGains(line)
	p.zoneAverages(r, g, b, line)
	p.spectrum(line)

	line.TimestampUS = timestampUS
	p.pub.Publish()
}

func (p *Preprocessor) grayscale(r, g, b []byte, line *ImageLine) {
	const inv255 = float32(1.0 / 255.0)
	for i := range line.Grayscale {
		line.Grayscale[i] = (GRAY_WEIGHT_R*float32(r[i]) +
			GRAY_WEIGHT_G*float32(g[i]) +
			GRAY_WEIGHT_B*float32(b[i])) * inv255
	}
}

// contrastFactor maps the grayscale standard deviation to [0,inf).  A flat
// line scores 0; a half black / half white line scores ~2.
func contrastFactor(gray []float32) float32 {
	if len(gray) == 0 {
		return 0
	}
	var sum float64
	for _, v := range gray {
		sum += float64(v)
	}
	mean := sum / float64(len(gray))
	var varSum float64
	for _, v := range gray {
		d := float64(v) - mean
		varSum += d * d
	}
	stddev := math.Sqrt(varSum / float64(len(gray)))
	// Full-contrast (0/1 alternating) stddev is 0.5.
	return float32(stddev / 0.25)
}

func (p *Preprocessor) noteAverages(r, g, b []byte, line *ImageLine) {
	inv := float32(1.0) / float32(p.pixelsPerNote)
	const inv255 = float32(1.0 / 255.0)
	for n := 0; n < p.numNotes; n++ {
		start := n * p.pixelsPerNote
		var sumGray, sumR, sumG, sumB float32
		for i := start; i < start+p.pixelsPerNote; i++ {
			sumGray += line.Grayscale[i]
			sumR += float32(r[i])
			sumG += float32(g[i])
			sumB += float32(b[i])
		}
		line.NoteVolume[n] = sumGray * inv
		p.noteR[n] = sumR * inv * inv255
		p.noteG[n] = sumG * inv * inv255
		p.noteB[n] = sumB * inv * inv255
	}
}

// stereoGains derives a color temperature per note from the warm/cold
// opponent channels and turns it into equal-power pan gains.  Mono mode
// collapses to center gains so downstream code never branches.
func (p *Preprocessor) stereoGains(line *ImageLine) {
	if !p.cfg.StereoMode {
		center := float32(math.Sqrt2 / 2)
		for n := range line.PanPosition {
			line.PanPosition[n] = 0
			line.LeftGain[n] = center
			line.RightGain[n] = center
		}
		return
	}
	for n := range line.PanPosition {
		warm := p.noteR[n]
		cold := p.noteB[n]
		t := (warm - cold) / (warm + cold + colorTempEpsilon)
		if t > 1 {
			t = 1
		} else if t < -1 {
			t = -1
		}
		angle := (float64(t) + 1) * math.Pi / 4
		line.PanPosition[n] = t
		line.LeftGain[n] = float32(math.Cos(angle))
		line.RightGain[n] = float32(math.Sin(angle))
	}
}

func (p *Preprocessor) zoneAverages(r, g, b []byte, line *ImageLine) {
	if len(line.ZoneRGB) == 0 || p.zoneStride == 0 {
		return
	}
	const inv255 = float32(1.0 / 255.0)
	inv := float32(1.0) / float32(p.zoneStride)
	for z := range line.ZoneRGB {
		start := z * p.zoneStride
		end := start + p.zoneStride
		if end > len(r) {
			end = len(r)
		}
		var sr, sg, sb float32
		for i := start; i < end; i++ {
			sr += float32(r[i])
			sg += float32(g[i])
			sb += float32(b[i])
		}
		line.ZoneRGB[z] = [3]float32{sr * inv * inv255, sg * inv * inv255, sb * inv * inv255}
	}
}

// spectrum computes the smoothed magnitude bins.  Two smoothing stages: a
// moving average over the previous fft_history_size frames kills bass
// flicker, then exponential smoothing toward that average with
// amplitude_smoothing_alpha keeps transients from pumping the harmonics.
func (p *Preprocessor) spectrum(line *ImageLine) {
	if !p.fftOK {
		line.FFTValid = false
		return
	}

	for i, v := range line.Grayscale {
		p.fftIn[i] = float64(v)
	}
	spec := fft.FFTReal(p.fftIn)

	norm := float64(len(p.fftIn)) / FFT_NORM_FACTOR
	slot := p.history[p.histPos]
	for i := 0; i < p.bins; i++ {
		mag := float32(cmplx.Abs(spec[i+1]) / norm) // skip DC
		p.histSum[i] += mag - slot[i]
		slot[i] = mag
	}
	p.histPos = (p.histPos + 1) % len(p.history)
	if p.histCount < len(p.history) {
		p.histCount++
	}

	invCount := float32(1.0) / float32(p.histCount)
	for i := 0; i < p.bins; i++ {
		avg := p.histSum[i] * invCount
		p.smoothed[i] += p.alpha * (avg - p.smoothed[i])
		line.Magnitudes[i] = p.smoothed[i]
	}
	line.FFTValid = true
}
