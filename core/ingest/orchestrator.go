// Package ingest stores uploaded audio: blobs first, then metadata rows, with
// a compensating blob delete when the row cannot be written.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tunevault/core/archive"
	"tunevault/core/audio"
	"tunevault/core/events"
	"tunevault/core/meta"
	"tunevault/logger"
	"tunevault/metrics"
	"tunevault/model"
	"tunevault/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// compensateTimeout bounds the rollback delete, which runs even after the
// request context is gone.
const compensateTimeout = 30 * time.Second

// TrackWriter persists track rows.
type TrackWriter interface {
	CreateTrack(ctx context.Context, track *model.Track) error
}

// CoverWriter persists cover rows.
type CoverWriter interface {
	CreateCover(ctx context.Context, cover *model.Cover) error
	DeleteCover(ctx context.Context, id string) error
}

// Upload is one uploaded file or archive.
type Upload struct {
	Name string // already normalized
	Src  io.ReaderAt
	Size int64
}

// Request is one ingest call.
type Request struct {
	Principal model.Principal
	TargetDir string
	Uploads   []Upload
}

// Orchestrator runs extraction, transcoding and the two store writes.
type Orchestrator struct {
	store       storage.BlobStore
	tracks      TrackWriter
	covers      CoverWriter
	processor   audio.Processor
	workDir     string
	events      events.Publisher
	parallelism int
	maxExtract  int64
	newID       func() string

	inflight sync.Map // track id -> principal id, for segment events
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTranscoder enables HLS output. Sources are staged under workDir.
func WithTranscoder(p audio.Processor, workDir string) Option {
	return func(o *Orchestrator) {
		o.processor = p
		o.workDir = workDir
	}
}

func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithUploadParallelism bounds concurrent segment uploads per track.
func WithUploadParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithMaxExtractedSize caps the decompressed bytes taken out of one upload.
// Zero or less means no cap.
func WithMaxExtractedSize(n int64) Option {
	return func(o *Orchestrator) { o.maxExtract = n }
}

// WithIDGenerator replaces uuid generation, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewOrchestrator 创建上传编排器
func NewOrchestrator(store storage.BlobStore, tracks TrackWriter, covers CoverWriter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		tracks:      tracks,
		covers:      covers,
		events:      events.Nop{},
		parallelism: 4,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if n, ok := o.processor.(interface {
		OnSegment(func(trackID, name string))
	}); ok {
		n.OnSegment(o.segmentCreated)
	}
	return o
}

func (o *Orchestrator) segmentCreated(trackID, name string) {
	if pid, ok := o.inflight.Load(trackID); ok {
		o.events.Publish(pid.(string), events.Event{Kind: events.Segment, TrackID: trackID, Name: name})
	}
}

// batch is the state of one Ingest call.
type batch struct {
	req       Request
	covers    map[string]*string      // directory cover ref -> stored cover id (nil after a failed write)
	coverRows map[string]*model.Cover // directory cover ref -> row written by this batch
	coverUses map[string]int          // directory cover ref -> stored tracks pointing at it
}

// orphanCover returns the cover a failed unit leaves behind: its embedded
// cover, or a directory cover no stored track points at yet.
func (b *batch) orphanCover(unit archive.ExtractedUnit, own *model.Cover) *model.Cover {
	if own != nil {
		return own
	}
	if unit.CoverRef == "" || b.coverUses[unit.CoverRef] > 0 {
		return nil
	}
	return b.coverRows[unit.CoverRef]
}

// Ingest stores every recognised audio unit of the request and returns the
// stored tracks in order. Units that fail extraction, parsing or transcoding
// are skipped. A blob write failure skips its unit and is returned once the
// batch is done. A metadata write failure stops the batch at once. In both
// cases the returned slice holds what was stored.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) ([]model.Track, error) {
	var stored []model.Track
	var blobErr error
	pid := req.Principal.ID

	for _, up := range req.Uploads {
		res, err := archive.Extract(up.Src, up.Size, up.Name, o.maxExtract)
		if err != nil {
			detail := "extract"
			if errors.Is(err, archive.ErrTooLarge) {
				detail = "too_large"
			}
			logger.Warn("upload could not be extracted", logger.String("name", up.Name), logger.ErrorField(err))
			metrics.IngestUnits.WithLabelValues("failed").Inc()
			o.events.Publish(pid, events.Event{Kind: events.Failed, Name: up.Name, Detail: detail})
			continue
		}
		for _, name := range res.Skipped {
			metrics.IngestUnits.WithLabelValues("skipped").Inc()
			o.events.Publish(pid, events.Event{Kind: events.Skipped, Name: name})
		}

		b := &batch{
			req:       req,
			covers:    make(map[string]*string),
			coverRows: make(map[string]*model.Cover),
			coverUses: make(map[string]int),
		}
		dirCovers := make(map[string]archive.CoverArtifact, len(res.Covers))
		for _, c := range res.Covers {
			dirCovers[c.Ref] = c
		}

		for _, unit := range res.Tracks {
			if err := ctx.Err(); err != nil {
				return stored, err
			}
			track, err := o.ingestUnit(ctx, b, unit, dirCovers)
			if err == nil {
				stored = append(stored, *track)
				continue
			}

			var se *StoreError
			if errors.As(err, &se) {
				if se.Stage == StageMetadata {
					return stored, err
				}
				if blobErr == nil {
					blobErr = err
				}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stored, ctxErr
			}
		}
	}
	return stored, blobErr
}

func (o *Orchestrator) ingestUnit(ctx context.Context, b *batch, unit archive.ExtractedUnit, dirCovers map[string]archive.CoverArtifact) (*model.Track, error) {
	pid := b.req.Principal.ID
	logical := LogicalPath(b.req.TargetDir, unit.Name)
	id := o.newID()
	key := BlobKey(pid, id, extOf(unit.Name))
	md := unit.Metadata

	fail := func(err error, detail string) error {
		metrics.IngestUnits.WithLabelValues("failed").Inc()
		o.events.Publish(pid, events.Event{Kind: events.Failed, Name: logical, TrackID: id, Detail: detail})
		return err
	}

	var out *audio.Output
	if o.processor != nil {
		var err error
		out, err = o.transcode(ctx, pid, id, unit)
		if err != nil {
			logger.Warn("transcode failed, track skipped",
				logger.String("name", logical), logger.String("trackId", id), logger.ErrorField(err))
			return nil, fail(err, "transcode")
		}
		defer out.Cleanup()
	}

	// blobs
	if err := o.store.Put(ctx, key, bytes.NewReader(unit.Data), int64(len(unit.Data)), md.Variant.MimeType()); err != nil {
		se := &StoreError{Stage: StageBlob, Key: key, Err: err}
		return nil, fail(se, stageDetail(se))
	}
	var prefix string
	if out != nil {
		prefix = StreamPrefix(pid, id)
		if err := o.uploadStream(ctx, prefix, out); err != nil {
			o.compensate(ctx, key, prefix)
			se := &StoreError{Stage: StageBlob, Key: prefix, Err: err}
			return nil, fail(se, stageDetail(se))
		}
	}

	coverID, ownCover, err := o.resolveCover(ctx, b, unit, dirCovers)
	if err != nil {
		o.compensate(ctx, key, prefix)
		return nil, fail(err, stageDetail(err))
	}

	// metadata row
	track := &model.Track{
		ID:           id,
		OwnerID:      pid,
		OriginalName: logical,
		BlobKey:      key,
		StreamPrefix: prefix,
		SizeBytes:    int64(len(unit.Data)),
		MimeType:     md.Variant.MimeType(),
		Title:        md.Title,
		TrackNumber:  md.TrackNumber,
		Album:        md.Album,
		Artist:       md.Artist,
		Genre:        md.Genre,
		CoverID:      coverID,
	}
	if out != nil {
		track.Duration = float32(out.Probe.Duration)
	}
	if err := o.tracks.CreateTrack(ctx, track); err != nil {
		o.compensate(ctx, key, prefix)
		if c := b.orphanCover(unit, ownCover); c != nil {
			o.compensateCover(ctx, c)
		}
		metrics.IngestUnits.WithLabelValues("rolled_back").Inc()
		o.events.Publish(pid, events.Event{Kind: events.RolledBack, Name: logical, TrackID: id})
		return nil, &StoreError{Stage: StageMetadata, Key: key, Err: err}
	}

	if unit.CoverRef != "" && coverID != nil {
		b.coverUses[unit.CoverRef]++
	}
	metrics.IngestUnits.WithLabelValues("stored").Inc()
	o.events.Publish(pid, events.Event{Kind: events.Stored, Name: logical, TrackID: id})
	logger.Info("track stored",
		logger.String("trackId", id),
		logger.String("name", logical),
		logger.Bool("streamable", prefix != ""))
	return track, nil
}

func (o *Orchestrator) transcode(ctx context.Context, pid, id string, unit archive.ExtractedUnit) (*audio.Output, error) {
	dir := o.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	src, err := os.CreateTemp(dir, id+"-*"+extOf(unit.Name))
	if err != nil {
		return nil, err
	}
	defer os.Remove(src.Name())
	if _, err := src.Write(unit.Data); err != nil {
		src.Close()
		return nil, err
	}
	if err := src.Close(); err != nil {
		return nil, err
	}

	o.inflight.Store(id, pid)
	defer o.inflight.Delete(id)

	start := time.Now()
	out, err := o.processor.Transcode(ctx, id, src.Name())
	metrics.ObserveTranscode(err, time.Since(start))
	return out, err
}

// uploadStream puts the manifest and every segment under prefix.
func (o *Orchestrator) uploadStream(ctx context.Context, prefix string, out *audio.Output) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for _, file := range out.Files() {
		g.Go(func() error {
			return o.putFile(gctx, prefix+filepath.Base(file), file)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) putFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return o.store.Put(ctx, key, f, st.Size(), streamContentType(file))
}

func streamContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

// resolveCover returns the cover id for unit: its directory cover, else its
// embedded picture, else nil. A cover whose blob cannot be written is dropped;
// a cover row failure is a metadata failure. own is the stored embedded cover,
// which belongs to this unit alone.
func (o *Orchestrator) resolveCover(ctx context.Context, b *batch, unit archive.ExtractedUnit, dirCovers map[string]archive.CoverArtifact) (id *string, own *model.Cover, err error) {
	if unit.CoverRef != "" {
		if id, done := b.covers[unit.CoverRef]; done {
			return id, nil, nil
		}
		art, ok := dirCovers[unit.CoverRef]
		if !ok {
			return nil, nil, nil
		}
		cover, err := o.storeCover(ctx, b.req.Principal.ID, art.Data, art.Info, "")
		if err != nil {
			return nil, nil, err
		}
		id = coverIDOf(cover)
		b.covers[unit.CoverRef] = id
		b.coverRows[unit.CoverRef] = cover
		return id, nil, nil
	}

	pic := unit.Metadata.Cover
	if pic == nil {
		return nil, nil, nil
	}
	info, err := meta.InspectImage(pic.Data)
	if err != nil {
		return nil, nil, nil
	}
	cover, err := o.storeCover(ctx, b.req.Principal.ID, pic.Data, info, pic.MIMEType)
	if err != nil {
		return nil, nil, err
	}
	return coverIDOf(cover), cover, nil
}

func coverIDOf(c *model.Cover) *string {
	if c == nil {
		return nil
	}
	id := c.ID
	return &id
}

// storeCover writes the cover blob and row. A nil cover with a nil error means
// the blob write failed and the track goes without a cover.
func (o *Orchestrator) storeCover(ctx context.Context, pid string, data []byte, info meta.ImageInfo, mime string) (*model.Cover, error) {
	if mime == "" {
		mime = info.MIMEType
	}
	id := o.newID()
	key := CoverKey(pid, id, info.Extension())
	if err := o.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mime); err != nil {
		logger.Warn("cover blob write failed, track stored without cover",
			logger.String("key", key), logger.ErrorField(err))
		return nil, nil
	}

	width, height := info.Width, info.Height
	cover := &model.Cover{
		ID:        id,
		OwnerID:   pid,
		BlobKey:   key,
		MimeType:  mime,
		Format:    info.Format,
		Width:     &width,
		Height:    &height,
		SizeBytes: int64(len(data)),
	}
	if err := o.covers.CreateCover(ctx, cover); err != nil {
		o.compensate(ctx, key, "")
		return nil, &StoreError{Stage: StageMetadata, Key: key, Err: err}
	}
	return cover, nil
}

// compensateCover removes a cover row and blob that no track row points at.
func (o *Orchestrator) compensateCover(ctx context.Context, cover *model.Cover) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := o.covers.DeleteCover(cctx, cover.ID); err != nil {
		logger.Error("compensating cover delete failed", logger.String("coverId", cover.ID), logger.ErrorField(err))
	}
	o.compensate(ctx, cover.BlobKey, "")
}

// compensate makes one best-effort attempt to delete what a failed unit wrote.
// It runs on a detached context so a cancelled request still cleans up.
func (o *Orchestrator) compensate(ctx context.Context, key, prefix string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	result := "ok"
	if key != "" {
		if err := o.store.Remove(cctx, key); err != nil {
			result = "error"
			logger.Error("compensating delete failed", logger.String("key", key), logger.ErrorField(err))
		}
	}
	if prefix != "" {
		if err := o.store.RemovePrefix(cctx, prefix); err != nil {
			result = "error"
			logger.Error("compensating delete failed", logger.String("prefix", prefix), logger.ErrorField(err))
		}
	}
	metrics.CompensatingDeletes.WithLabelValues(result).Inc()
}

// stageDetail is the client-facing reason of a failed unit.
func stageDetail(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s store", se.Stage)
	}
	return "error"
}
