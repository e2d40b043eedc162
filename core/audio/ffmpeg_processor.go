package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"tunevault/logger"
)

// File names inside a track's output directory.
const (
	PlaylistName   = "playlist.m3u8"
	segmentPattern = "segment_%03d.ts"
	segmentGlob    = "segment_*.ts"
)

// maxBitRate caps the AAC target; lossless sources report far more.
const maxBitRate = 320000

// Options configures FFmpegProcessor.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	SegmentTime int // seconds
	Timeout     time.Duration
	WorkDir     string
}

// Output is a finished HLS rendition on local disk.
type Output struct {
	Dir      string
	Playlist string   // absolute path of the manifest
	Segments []string // absolute paths, in play order
	Probe    ProbeInfo
}

// Files lists the manifest followed by the segments.
func (o *Output) Files() []string {
	return append([]string{o.Playlist}, o.Segments...)
}

// Cleanup removes the output directory.
func (o *Output) Cleanup() {
	if err := os.RemoveAll(o.Dir); err != nil {
		logger.Warn("failed to remove transcode output", logger.String("dir", o.Dir), logger.ErrorField(err))
	}
}

// FFmpegProcessor probes a source with ffprobe and encodes it to AAC HLS with
// ffmpeg. Work runs on the pool when one is set.
type FFmpegProcessor struct {
	runner    Runner
	opts      Options
	pool      *Pool
	onSegment func(trackID, name string)
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(runner Runner, opts Options, pool *Pool) *FFmpegProcessor {
	if opts.SegmentTime <= 0 {
		opts.SegmentTime = 10
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "tunevault")
	}
	return &FFmpegProcessor{runner: runner, opts: opts, pool: pool}
}

// OnSegment registers a callback fired as ffmpeg creates each segment.
func (p *FFmpegProcessor) OnSegment(fn func(trackID, name string)) {
	p.onSegment = fn
}

// Transcode writes <WorkDir>/<trackID>/playlist.m3u8 and its segments. On any
// failure, the timeout included, the directory is removed before returning.
func (p *FFmpegProcessor) Transcode(ctx context.Context, trackID, sourcePath string) (*Output, error) {
	if p.pool == nil {
		return p.transcode(ctx, trackID, sourcePath)
	}
	var out *Output
	err := p.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.transcode(ctx, trackID, sourcePath)
		return err
	})
	return out, err
}

func (p *FFmpegProcessor) transcode(ctx context.Context, trackID, sourcePath string) (out *Output, err error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	dir := filepath.Join(p.opts.WorkDir, trackID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				logger.Warn("failed to clean up partial segments", logger.String("dir", dir), logger.ErrorField(rmErr))
			}
		}
	}()

	start := time.Now()
	info, err := Probe(ctx, p.runner, p.opts.FFprobePath, sourcePath)
	if err != nil {
		return nil, err
	}

	if p.onSegment != nil {
		watchCtx, stopWatch := context.WithCancel(ctx)
		stopped, werr := WatchSegments(watchCtx, dir, func(name string) { p.onSegment(trackID, name) })
		if werr != nil {
			stopWatch()
			logger.Warn("segment watcher unavailable", logger.String("trackId", trackID), logger.ErrorField(werr))
		} else {
			defer func() {
				stopWatch()
				<-stopped
			}()
		}
	}

	playlist := filepath.Join(dir, PlaylistName)
	args := p.encodeArgs(sourcePath, dir, info)
	logger.Debug("executing ffmpeg", logger.String("trackId", trackID), logger.Strings("args", args))
	if _, err := p.runner.Run(ctx, p.opts.FFmpegPath, args...); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("ffmpeg %s: %w: %v", trackID, ErrTimeout, err)
		}
		return nil, fmt.Errorf("ffmpeg %s: %w", trackID, err)
	}

	segments, err := filepath.Glob(filepath.Join(dir, segmentGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(segments)
	if _, err := os.Stat(playlist); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: no playlist written: %w", trackID, err)
	}
	if len(segments) == 0 {
		return nil, errors.New("ffmpeg " + trackID + ": no segments written")
	}

	logger.Info("transcoded to HLS",
		logger.String("trackId", trackID),
		logger.Int("segments", len(segments)),
		logger.Duration("took", time.Since(start)))
	return &Output{Dir: dir, Playlist: playlist, Segments: segments, Probe: info}, nil
}

func (p *FFmpegProcessor) encodeArgs(input, dir string, info ProbeInfo) []string {
	bitRate := info.BitRate
	if bitRate > maxBitRate {
		bitRate = maxBitRate
	}
	return []string{
		"-y",
		"-v", "error",
		"-i", input,
		"-vn",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(bitRate),
		"-ar", strconv.Itoa(info.SampleRate),
		"-ac", strconv.Itoa(info.Channels),
		"-hls_time", strconv.Itoa(p.opts.SegmentTime),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(dir, segmentPattern),
		"-f", "hls",
		filepath.Join(dir, PlaylistName),
	}
}
