// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package stack implements the live stacking pipeline: incremental
// alignment and stacking of raw frames into a running master image, with
// robust outlier rejection and an online-adapted sigma threshold.
package stack

import (
	"errors"
	"io"
	"log/slog"
	"math"

	"github.com/pbnjay/memory"

	"github.com/mlnoga/nightwatch/internal/fits"
	"github.com/mlnoga/nightwatch/internal/star"
)

var ErrAlignmentFailed = errors.New("alignment failed")

const (
	defaultSigma      float32 = 4
	defaultMaxHistory         = 7
	maxSigma          float32 = 5.0
	sigmaGrowFactor   float32 = 1.2
	sigmaShrinkFactor float32 = 0.9
	sigmaWindowMin            = 4
	highOutlierMean   float32 = 0.30
	lowOutlierMean    float32 = 0.05
)

// Star detection and alignment parameters for stacking frames
const (
	starSig          float32 = 10
	starBPSig        float32 = 5
	starInOut        float32 = 1.4
	starRadius       int32   = 16
	alignK           int32   = 20
	maxAlignResidual float32 = 1.0
)

const queueCapacity = 256

// Configures a live stacking run
type Config struct {
	SigmaThreshold float32 // initial outlier clipping threshold, defaults to 4
	MaxHistory     int     // bounded history length H, defaults to 7
	TargetWidth    int32   // bin frames wider than this, 0 disables
	DarkPath       string  // optional master dark FITS file
	Log            *slog.Logger
}

// One published stacking result. Master is immutable once published.
// A non-nil Err flags a skipped frame; the previous master is re-emitted
type Result struct {
	Master      *fits.Image `json:"-"`
	Frames      int         `json:"frames"`
	OutlierFrac float32     `json:"outlier_fraction"`
	Sigma       float32     `json:"sigma"`
	Err         error       `json:"-"`
}

// Incremental alignment and stacking worker. Frame paths queue via
// ProcessNewImage and are consumed one at a time in arrival order by a
// dedicated goroutine, so ingestion never blocks capture
type Stacker struct {
	cfg  Config
	log  *slog.Logger
	dark *fits.Image

	queue   chan string
	results chan Result
	done    chan struct{}

	// worker-goroutine state, unguarded by design
	ref          *fits.Image
	aligner      *star.Aligner
	chanAligners []*star.Aligner // per-channel aligners for color frames
	master       *fits.Image
	history      []*fits.Image // aligned frames, bounded at MaxHistory
	stacked      int           // frames merged into the master
	restacked    bool
	sigma        float32
	outlierFracs []float32 // rolling window driving sigma adaptation
	frameID      int
}

// Creates a stacker and starts its worker goroutine. The master dark is
// loaded once; a missing or unreadable dark is logged and ignored
func NewStacker(cfg Config) *Stacker {
	if cfg.SigmaThreshold <= 0 {
		cfg.SigmaThreshold = defaultSigma
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Stacker{
		cfg:     cfg,
		log:     cfg.Log,
		queue:   make(chan string, queueCapacity),
		results: make(chan Result, 16),
		done:    make(chan struct{}),
		sigma:   cfg.SigmaThreshold,
	}
	if cfg.DarkPath != "" {
		dark, err := fits.NewImageFromFile(cfg.DarkPath, -1, io.Discard)
		if err != nil {
			s.log.Warn("master dark not loaded, stacking without", "path", cfg.DarkPath, "error", err)
		} else {
			dark.NormalizeFullScale()
			s.dark = dark
		}
	}
	go s.run()
	return s
}

// Queues a frame for stacking. Safe to call faster than the worker
// consumes; arrival order is preserved. Returns false after Stop
func (s *Stacker) ProcessNewImage(path string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- path:
		return true
	case <-s.done:
		return false
	}
}

// Stream of published masters, one per processed frame. Closed after Stop
// once the queue has drained
func (s *Stacker) Results() <-chan Result {
	return s.results
}

// Stops the worker. Queued frames are flushed unprocessed; the final
// master is published before the result channel closes. Idempotent
func (s *Stacker) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Stacker) run() {
	defer close(s.results)
	for {
		select {
		case <-s.done:
			s.flush()
			if s.master != nil {
				s.results <- Result{Master: s.master, Frames: s.stacked, Sigma: s.sigma}
			}
			return
		case path := <-s.queue:
			res := s.process(path)
			s.publish(res)
		}
	}
}

func (s *Stacker) flush() {
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// Publishes without blocking the worker: when the renderer lags, the
// oldest unrendered result is dropped in favor of the newest master
func (s *Stacker) publish(res Result) {
	for {
		select {
		case s.results <- res:
			return
		default:
			select {
			case <-s.results:
			default:
			}
		}
	}
}

// Runs the full per-frame pipeline and returns the result to publish
func (s *Stacker) process(path string) Result {
	f, err := s.loadFrame(path)
	if err != nil {
		s.log.Warn("frame skipped", "path", path, "error", err)
		return Result{Master: s.master, Frames: s.stacked, Sigma: s.sigma, Err: err}
	}

	if s.ref == nil {
		s.initReference(f)
		return Result{Master: s.master, Frames: s.stacked, Sigma: s.sigma}
	}

	aligned, err := s.align(f)
	if err != nil {
		s.log.Warn("frame skipped", "id", f.ID, "path", path, "error", err)
		return Result{Master: s.master, Frames: s.stacked, Sigma: s.sigma, Err: ErrAlignmentFailed}
	}

	frac, merged := s.reject(aligned)
	if !merged {
		s.merge(aligned)
	}
	s.adaptSigma(frac)
	return Result{Master: s.master, Frames: s.stacked, OutlierFrac: frac, Sigma: s.sigma}
}

// Loads a frame and applies calibration: auto-debayer, normalize to [0,1],
// master dark subtraction when shapes match, binning down to TargetWidth
func (s *Stacker) loadFrame(path string) (*fits.Image, error) {
	f, err := fits.NewImageFromFile(path, s.frameID, io.Discard)
	if err != nil {
		return nil, err
	}
	s.frameID++

	if f.Bayer != "" {
		f, err = f.Debayer(f.Bayer)
		if err != nil {
			return nil, err
		}
	}
	// fixed full-scale normalization, so the master dark stays comparable
	f.NormalizeFullScale()

	if s.dark != nil {
		if err := f.SubtractDark(s.dark); err != nil {
			s.log.Warn("master dark not applied", "id", f.ID, "error", err)
		}
	}

	if s.cfg.TargetWidth > 0 && f.Naxisn[0] > s.cfg.TargetWidth {
		factor := f.Naxisn[0] / s.cfg.TargetWidth
		if factor >= 2 {
			f = fits.NewImageBinNxN(f, factor)
		}
	}
	return f, nil
}

// The first accepted frame becomes the reference and the initial master
func (s *Stacker) initReference(f *fits.Image) {
	lum := f.Luminance()
	lum.Stars, _, lum.HFR = findStars(lum)
	s.ref = f
	s.aligner = star.NewAligner(lum.Naxisn, lum.Stars, alignK)
	if f.IsColor() {
		s.chanAligners = make([]*star.Aligner, 3)
		for ch := int32(0); ch < 3; ch++ {
			plane := channelImage(f, ch)
			plane.Stars, _, _ = findStars(plane)
			s.chanAligners[ch] = star.NewAligner(plane.Naxisn, plane.Stars, alignK)
		}
	}

	s.checkMemory(f)
	s.master = cloneImage(f)
	s.history = append(s.history, f)
	s.stacked = 1
	s.log.Info("stacking reference set", "dims", f.DimensionsToString(), "stars", len(lum.Stars))
}

// Warns when the bounded history cannot fit in physical memory
func (s *Stacker) checkMemory(f *fits.Image) {
	need := uint64(s.cfg.MaxHistory+2) * uint64(f.Pixels) * 4
	if total := memory.TotalMemory(); need > total/2 {
		s.log.Warn("stacking history may not fit in memory",
			"needMB", need/1024/1024, "totalMB", total/1024/1024, "history", s.cfg.MaxHistory)
	}
}

// Aligns a frame to the reference with an astrometric star-matching
// transform. The transform is estimated on the luminance plane; color
// frames are additionally aligned per channel, falling back to the
// luminance transform when a channel fails to match
func (s *Stacker) align(f *fits.Image) (*fits.Image, error) {
	lum := f.Luminance()
	lum.Stars, _, _ = findStars(lum)
	if len(lum.Stars) == 0 {
		return nil, errors.New("no alignment stars found")
	}
	lumTrans, residual := s.aligner.Align(lum.Naxisn, lum.Stars, f.ID)
	if residual > maxAlignResidual {
		return nil, errors.New("alignment residual above threshold")
	}
	nan := float32(math.NaN())

	if !f.IsColor() {
		res, err := f.Project(s.aligner.Naxisn, lumTrans, nan)
		if err != nil {
			return nil, err
		}
		res.Trans, res.Residual = lumTrans, residual
		return res, nil
	}

	res := fits.NewImageFromNaxisn(append(append([]int32(nil), s.aligner.Naxisn[:2]...), 3), nil)
	res.ID, res.Exposure = f.ID, f.Exposure
	res.Trans, res.Residual = lumTrans, residual
	for ch := int32(0); ch < 3; ch++ {
		plane := channelImage(f, ch)
		trans := lumTrans
		plane.Stars, _, _ = findStars(plane)
		if len(plane.Stars) > 0 {
			if t, r := s.chanAligners[ch].Align(plane.Naxisn, plane.Stars, f.ID); r <= maxAlignResidual {
				trans = t
			}
		}
		projected, err := plane.Project(s.aligner.Naxisn[:2], trans, nan)
		if err != nil {
			return nil, err
		}
		copy(res.Channel(ch), projected.Data)
	}
	return res, nil
}

// Clips outliers from the aligned frame in place and maintains the
// history. Returns the observed outlier fraction, and whether the frame
// already entered the master through the one-shot re-stack
func (s *Stacker) reject(aligned *fits.Image) (frac float32, merged bool) {
	if s.restacked {
		return s.rejectAgainstMaster(aligned), false
	}
	frac = s.clipAgainstHistory(aligned)
	s.history = append(s.history, aligned)
	if len(s.history) == s.cfg.MaxHistory {
		s.restack()
		return frac, true
	}
	return frac, false
}

// Winsorized sigma clipping of the frame against the per-pixel robust
// statistics of the history, channel by channel. The frame itself enters
// the statistics stack, keeping the scale estimate meaningful while the
// history is still shallow
func (s *Stacker) clipAgainstHistory(f *fits.Image) float32 {
	channels := int32(1)
	if f.IsColor() {
		channels = 3
	}
	var sum float32
	for ch := int32(0); ch < channels; ch++ {
		planes := make([][]float32, 0, len(s.history)+1)
		for _, h := range s.history {
			planes = append(planes, h.Channel(ch))
		}
		planes = append(planes, f.Channel(ch))
		rs := computeRobustStats(planes)
		sum += clipPlane(f.Channel(ch), rs, s.sigma)
	}
	f.Stats.Clear()
	return sum / float32(channels)
}

// One-shot re-stack at history depth H: the running master is recomputed
// by winsorized-clipping every history frame against the whole history,
// removing artifacts carried over from the initial reference
func (s *Stacker) restack() {
	s.restacked = true
	channels := int32(1)
	if s.master.IsColor() {
		channels = 3
	}

	master := fits.NewImageFromImage(s.master)
	weight := 1.0 / float32(len(s.history))
	for ch := int32(0); ch < channels; ch++ {
		planes := make([][]float32, len(s.history))
		for i, h := range s.history {
			planes[i] = h.Channel(ch)
		}
		rs := computeRobustStats(planes)
		out := master.Channel(ch)
		buf := make([]float32, len(out))
		for _, p := range planes {
			copy(buf, p)
			clipPlane(buf, rs, s.sigma)
			for i, v := range buf {
				out[i] += v * weight
			}
		}
	}
	s.master = master
	s.stacked = len(s.history)
	s.log.Info("one-shot re-stack complete", "frames", s.stacked, "sigma", s.sigma)
}

// Cheap post-history path: pixels deviating from the current master
// beyond the adaptive threshold are replaced by master values
func (s *Stacker) rejectAgainstMaster(f *fits.Image) float32 {
	channels := int32(1)
	if f.IsColor() {
		channels = 3
	}
	var sum float32
	for ch := int32(0); ch < channels; ch++ {
		sum += rejectPlane(f.Channel(ch), s.master.Channel(ch), s.sigma)
	}
	f.Stats.Clear()
	return sum / float32(channels)
}

// Merges the clipped frame into a fresh master by incremental weighted
// mean. The previous master is left untouched for readers it was
// published to
func (s *Stacker) merge(f *fits.Image) {
	n := float32(s.stacked)
	master := fits.NewImageFromImage(s.master)
	md, fd := s.master.Data, f.Data
	scale := 1.0 / (n + 1)
	for i := range master.Data {
		master.Data[i] = (md[i]*n + fd[i]) * scale
	}
	s.master = master
	s.stacked++
}

// Adapts the clipping threshold to the observed outlier rate: a noisy
// window widens sigma up to the cap, a quiet one tightens it
func (s *Stacker) adaptSigma(frac float32) {
	s.outlierFracs = append(s.outlierFracs, frac)
	if len(s.outlierFracs) > s.cfg.MaxHistory {
		s.outlierFracs = s.outlierFracs[1:]
	}
	if len(s.outlierFracs) < sigmaWindowMin {
		return
	}
	var mean float32
	for _, v := range s.outlierFracs {
		mean += v
	}
	mean /= float32(len(s.outlierFracs))
	switch {
	case mean > highOutlierMean:
		s.sigma *= sigmaGrowFactor
		if s.sigma > maxSigma {
			s.sigma = maxSigma
		}
	case mean < lowOutlierMean:
		s.sigma *= sigmaShrinkFactor
	}
}

func findStars(f *fits.Image) ([]star.Star, float32, float32) {
	return star.FindStars(f.Data, f.Naxisn[0], f.Stats.Location(), f.Stats.Scale(),
		starSig, starBPSig, starInOut, starRadius, nil)
}

// Extracts one channel plane as a standalone mono image sharing storage
func channelImage(f *fits.Image, ch int32) *fits.Image {
	if !f.IsColor() {
		return f
	}
	plane := fits.NewImageFromNaxisn(f.Naxisn[:2], f.Channel(ch))
	plane.ID, plane.Exposure = f.ID, f.Exposure
	return plane
}

func cloneImage(f *fits.Image) *fits.Image {
	res := fits.NewImageFromImage(f)
	copy(res.Data, f.Data)
	return res
}
