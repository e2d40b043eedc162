package audio

import "context"

// Processor turns a source file into a segmented HLS stream.
type Processor interface {
	Transcode(ctx context.Context, trackID, sourcePath string) (*Output, error)
}

var _ Processor = (*FFmpegProcessor)(nil)
