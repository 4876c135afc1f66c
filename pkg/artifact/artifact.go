// Package artifact handles binary payloads carried in peer replies:
// writing screenshots to disk, downscaling oversized images through an
// external resize utility, and bounding how many auto-captured
// screenshots are retained.
package artifact

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	// Screenshot payloads are PNG from the extension, occasionally JPEG.
	_ "image/jpeg"
	_ "image/png"

	"github.com/gobwas/glob"

	"github.com/nicobailon/surf-cli/pkg/logging"
)

const autoScreenshotPattern = "auto-screenshot-*.png"

// SaveResult describes a written artifact.
type SaveResult struct {
	Path           string `json:"path"`
	OriginalWidth  int    `json:"originalWidth,omitempty"`
	OriginalHeight int    `json:"originalHeight,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Resized        bool   `json:"resized"`
}

// Pipeline writes and post-processes screenshot artifacts.
type Pipeline struct {
	log          *logging.Logger
	autoDir      string
	maxDimension int
	keep         int

	// resize is swappable for tests; the default shells out to the
	// platform's image utility.
	resize func(ctx context.Context, path string, maxDim int) error
}

// New returns a pipeline storing auto-screenshots under autoDir,
// resizing anything larger than maxDimension, and retaining the keep
// most recent auto-captures.
func New(autoDir string, maxDimension, keep int) *Pipeline {
	p := &Pipeline{
		log:          logging.New("artifact"),
		autoDir:      autoDir,
		maxDimension: maxDimension,
		keep:         keep,
	}
	p.resize = p.externalResize
	return p
}

// DecodePayload converts a peer-supplied image payload (raw base64 or a
// data: URL) into bytes.
func DecodePayload(s string) ([]byte, error) {
	if idx := strings.Index(s, ";base64,"); idx >= 0 {
		s = s[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return data, nil
}

// Save writes data to path, creating parent directories, and downsizes
// the image when either axis exceeds the effective maximum and the
// caller did not ask for full resolution. maxDim <= 0 uses the
// pipeline default.
func (p *Pipeline) Save(ctx context.Context, data []byte, path string, fullResolution bool, maxDim int) (SaveResult, error) {
	if maxDim <= 0 {
		maxDim = p.maxDimension
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return SaveResult{}, fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return SaveResult{}, fmt.Errorf("write artifact: %w", err)
	}

	result := SaveResult{Path: path}

	w, h, err := imageDimensions(path)
	if err != nil {
		// Not an image we can decode; the raw file is still useful.
		p.log.Warnf("could not read dimensions of %s: %v", path, err)
		return result, nil
	}
	result.OriginalWidth, result.OriginalHeight = w, h
	result.Width, result.Height = w, h

	if fullResolution || (w <= maxDim && h <= maxDim) {
		return result, nil
	}

	if err := p.resize(ctx, path, maxDim); err != nil {
		p.log.Warnf("resize of %s failed, keeping original: %v", path, err)
		return result, nil
	}
	result.Resized = true
	if w, h, err := imageDimensions(path); err == nil {
		result.Width, result.Height = w, h
	}
	return result, nil
}

// AutoPath returns a timestamp-named path for the next auto-screenshot.
func (p *Pipeline) AutoPath() string {
	name := fmt.Sprintf("auto-screenshot-%s.png", time.Now().Format("20060102-150405.000"))
	return filepath.Join(p.autoDir, name)
}

// SaveAuto writes an auto-captured screenshot and prunes old ones.
func (p *Pipeline) SaveAuto(ctx context.Context, data []byte) (SaveResult, error) {
	result, err := p.Save(ctx, data, p.AutoPath(), false, 0)
	if err != nil {
		return result, err
	}
	if err := p.Prune(); err != nil {
		p.log.Warnf("pruning auto-screenshots: %v", err)
	}
	return result, nil
}

// Prune removes auto-screenshots beyond the retention count, oldest
// first. Only files matching the auto-capture naming pattern are
// touched; anything the user saved explicitly is left alone.
func (p *Pipeline) Prune() error {
	matcher := glob.MustCompile(autoScreenshotPattern)

	entries, err := os.ReadDir(p.autoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read screenshot directory: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var shots []candidate
	for _, e := range entries {
		if e.IsDir() || !matcher.Match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		shots = append(shots, candidate{filepath.Join(p.autoDir, e.Name()), info.ModTime()})
	}

	if len(shots) <= p.keep {
		return nil
	}
	sort.Slice(shots, func(i, j int) bool { return shots[i].mod.After(shots[j].mod) })

	for _, old := range shots[p.keep:] {
		if err := os.Remove(old.path); err != nil {
			p.log.Warnf("removing %s: %v", old.path, err)
		}
	}
	return nil
}

func imageDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// externalResize shells out to the platform image utility: sips on
// macOS, ImageMagick elsewhere. The aspect ratio is preserved and the
// file is rewritten in place.
func (p *Pipeline) externalResize(ctx context.Context, path string, maxDim int) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		cmd = exec.CommandContext(ctx, "sips", "-Z", fmt.Sprint(maxDim), path)
	} else {
		geometry := fmt.Sprintf("%dx%d>", maxDim, maxDim)
		cmd = exec.CommandContext(ctx, "convert", path, "-resize", geometry, path)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("resize utility: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
