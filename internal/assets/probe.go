package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/keagan/reelforge/internal/ffmpeg"
	"github.com/keagan/reelforge/pkg/util"
	"github.com/rs/zerolog"
)

var extensionKinds = map[string]Kind{
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".webp": KindImage,
	".bmp": KindImage, ".gif": KindImage, ".tif": KindImage, ".tiff": KindImage,
	".mp3": KindAudio, ".wav": KindAudio, ".aac": KindAudio, ".m4a": KindAudio,
	".flac": KindAudio, ".ogg": KindAudio, ".opus": KindAudio,
	".ttf": KindFont, ".otf": KindFont, ".woff": KindFont, ".woff2": KindFont,
	".mp4": KindVideo, ".mov": KindVideo, ".mkv": KindVideo, ".webm": KindVideo,
	".avi": KindVideo, ".m4v": KindVideo,
}

// Classify guesses an asset kind from its file extension
func Classify(path string) Kind {
	if k, ok := extensionKinds[util.Extension(path)]; ok {
		return k
	}
	return KindUnknown
}

// Prober reads media metadata from a file
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// ProbeResolver treats references as file paths and fills in metadata with
// ffprobe. Results are cached per path.
type ProbeResolver struct {
	logger  zerolog.Logger
	prober  Prober
	baseDir string

	mu    sync.Mutex
	cache map[string]Asset
}

// NewProbeResolver creates a resolver rooted at baseDir. A nil prober limits
// resolution to extension-based classification.
func NewProbeResolver(logger zerolog.Logger, prober Prober, baseDir string) *ProbeResolver {
	return &ProbeResolver{
		logger:  logger.With().Str("component", "assets").Logger(),
		prober:  prober,
		baseDir: baseDir,
		cache:   make(map[string]Asset),
	}
}

// Resolve implements Resolver
func (r *ProbeResolver) Resolve(ctx context.Context, ref string) (Asset, error) {
	path := ref
	if !filepath.IsAbs(path) && r.baseDir != "" {
		path = filepath.Join(r.baseDir, path)
	}

	r.mu.Lock()
	cached, ok := r.cache[path]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	asset := Asset{ID: ref, Path: path, Kind: Classify(path)}
	if asset.Kind != KindFont && r.prober != nil {
		media, err := r.prober.Probe(ctx, path)
		if err != nil {
			return Asset{}, fmt.Errorf("failed to probe %s: %w", ref, err)
		}
		applyMedia(&asset, media)
	}

	r.logger.Debug().
		Str("path", path).
		Str("kind", string(asset.Kind)).
		Int("width", asset.Width).
		Int("height", asset.Height).
		Float64("duration", asset.Duration).
		Msg("asset resolved")

	r.mu.Lock()
	r.cache[path] = asset
	r.mu.Unlock()
	return asset, nil
}

func applyMedia(a *Asset, m *ffmpeg.MediaInfo) {
	a.Width = m.Width
	a.Height = m.Height
	a.Duration = m.Duration.Seconds()
	a.HasAudio = m.HasAudio

	switch {
	case a.Kind == KindAudio || a.Kind == KindImage:
		// cover art and animated stills keep the kind their extension implies
	case m.IsImage():
		a.Kind = KindImage
	case m.HasVideo:
		a.Kind = KindVideo
	case m.HasAudio:
		a.Kind = KindAudio
	}
}
