// Package hwaccel picks a hardware video encoder when ffmpeg advertises one
// and rewrites invocations to use it. Acceleration is best effort: any
// detection failure means software encoding.
package hwaccel

import (
	"bufio"
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/keagan/reelforge/internal/compiler"
	"github.com/rs/zerolog"
)

// Vendor identifies an encoder family
type Vendor string

const (
	None         Vendor = "none"
	NVENC        Vendor = "nvenc"
	QSV          Vendor = "qsv"
	VideoToolbox Vendor = "videotoolbox"
)

// Vendors lists every vendor, in detection priority after None
var Vendors = []Vendor{None, NVENC, QSV, VideoToolbox}

// EncoderLister returns ffmpeg's encoder listing
type EncoderLister interface {
	Encoders(ctx context.Context) (string, error)
}

// codecs maps software codecs to each vendor's encoder
var codecs = map[Vendor]map[string]string{
	NVENC:        {"libx264": "h264_nvenc", "libx265": "hevc_nvenc"},
	QSV:          {"libx264": "h264_qsv", "libx265": "hevc_qsv"},
	VideoToolbox: {"libx264": "h264_videotoolbox", "libx265": "hevc_videotoolbox"},
}

// Detect returns the first vendor whose encoders ffmpeg lists. It never
// fails; errors are logged at debug level to the context logger.
func Detect(ctx context.Context, lister EncoderLister) Vendor {
	logger := zerolog.Ctx(ctx)
	if lister == nil {
		logger.Debug().Msg("no encoder lister, using software encoding")
		return None
	}

	out, err := lister.Encoders(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("encoder detection failed, using software encoding")
		return None
	}

	available := encoderNames(out)
	for _, v := range Vendors[1:] {
		for _, enc := range codecs[v] {
			if available[enc] {
				logger.Debug().Str("vendor", string(v)).Str("encoder", enc).Msg("hardware encoder detected")
				return v
			}
		}
	}
	return None
}

// encoderNames reads names from `ffmpeg -encoders` lines such as
//
//	V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
func encoderNames(out string) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'V' {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// Apply returns a copy of inv encoding with vendor's hardware encoder. An
// unknown vendor, or a codec the vendor has no encoder for, returns inv
// unchanged.
func Apply(inv *compiler.Invocation, vendor Vendor) *compiler.Invocation {
	table, ok := codecs[vendor]
	if !ok || inv == nil {
		return inv
	}
	hw, ok := table[inv.Encoding.VideoCodec]
	if !ok {
		return inv
	}

	out := inv.Clone()
	enc := &out.Encoding
	enc.VideoCodec = hw

	switch vendor {
	case NVENC:
		enc.Preset = nvencPreset(enc.Preset)
		enc.QualityFlag = "-cq"
		enc.ExtraArgs = append(enc.ExtraArgs, "-rc", "vbr")
	case QSV:
		enc.Preset = qsvPreset(enc.Preset)
		enc.QualityFlag = "-global_quality"
		enc.PixelFormat = "nv12"
	case VideoToolbox:
		enc.Preset = ""
		enc.QualityFlag = "-q:v"
		enc.Quality = videotoolboxQuality(enc.Quality)
	}
	return out
}

var nvencPresets = map[string]string{
	"ultrafast": "p1",
	"superfast": "p1",
	"veryfast":  "p2",
	"faster":    "p3",
	"fast":      "p4",
	"medium":    "p4",
	"slow":      "p5",
	"slower":    "p6",
	"veryslow":  "p7",
}

func nvencPreset(p string) string {
	if mapped, ok := nvencPresets[p]; ok {
		return mapped
	}
	return "p4"
}

// qsv accepts the x264 names from veryfast up
func qsvPreset(p string) string {
	switch p {
	case "ultrafast", "superfast":
		return "veryfast"
	case "":
		return "medium"
	}
	return p
}

// videotoolboxQuality maps a CRF (0 best, 51 worst) onto -q:v (1 worst,
// 100 best)
func videotoolboxQuality(crf int) int {
	q := int(math.Round(100 - float64(crf)*100/51))
	return min(100, max(1, q))
}

// DefaultTTL is how long a detection result is reused
const DefaultTTL = 10 * time.Minute

// Selector caches detection so the encoder list is not probed per job
type Selector struct {
	lister  EncoderLister
	ttl     time.Duration
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	vendor   Vendor
	probedAt time.Time
	probed   bool
}

// NewSelector creates a selector. timeout bounds each probe; zero means no
// bound beyond the caller's context.
func NewSelector(logger zerolog.Logger, lister EncoderLister, ttl, timeout time.Duration) *Selector {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Selector{
		lister:  lister,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger.With().Str("component", "hwaccel").Logger(),
		now:     time.Now,
		vendor:  None,
	}
}

// Get returns the cached vendor, probing again once the cache is stale
func (s *Selector) Get(ctx context.Context) Vendor {
	s.mu.RLock()
	if s.probed && s.now().Sub(s.probedAt) < s.ttl {
		v := s.vendor
		s.mu.RUnlock()
		return v
	}
	s.mu.RUnlock()
	return s.Refresh(ctx)
}

// Peek returns the cached vendor without probing
func (s *Selector) Peek() (Vendor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vendor, s.probed
}

// Refresh probes regardless of the cache. A detection cut short by the
// caller's context is returned but not cached.
func (s *Selector) Refresh(ctx context.Context) Vendor {
	s.mu.Lock()
	defer s.mu.Unlock()

	detectCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		detectCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	v := Detect(s.logger.WithContext(detectCtx), s.lister)
	if ctx.Err() != nil {
		s.logger.Debug().Err(ctx.Err()).Msg("hardware acceleration detection interrupted, not caching")
		if s.probed {
			return s.vendor
		}
		return v
	}
	if !s.probed || v != s.vendor {
		s.logger.Info().Str("vendor", string(v)).Msg("hardware acceleration selected")
	}
	s.vendor = v
	s.probedAt = s.now()
	s.probed = true
	return v
}
