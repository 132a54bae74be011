package camera

import "context"

// FrameCallback is invoked for each frame pulled from a source. Returning an
// error does not stop extraction; it is logged and the loop continues.
type FrameCallback func(frameData []byte) error

// FrameSource is the thing a camera worker pulls frames from. The concrete
// production source is ffmpeg-backed (FFmpegSource); tests use a fake.
type FrameSource interface {
	// Run blocks, calling cb for each frame, until ctx is cancelled or the
	// source ends on its own (e.g. a file finishes). A non-nil error other
	// than ctx.Err() means the source failed and should be retried.
	Run(ctx context.Context, cb FrameCallback) error
	// Stop asks an in-progress Run to end as soon as possible.
	Stop()
}

// FFmpegSource pulls JPEG frames from an RTSP/HTTP source via ffmpeg.
type FFmpegSource struct {
	url       string
	fps       int
	width     int
	extractor *FFmpegExtractor
}

func NewFFmpegSource(url string, fps, width int) *FFmpegSource {
	return &FFmpegSource{url: url, fps: fps, width: width, extractor: &FFmpegExtractor{}}
}

func (s *FFmpegSource) Run(ctx context.Context, cb FrameCallback) error {
	s.extractor = &FFmpegExtractor{}
	return s.extractor.StartExtraction(ctx, s.url, s.fps, s.width, FrameCallback(cb))
}

func (s *FFmpegSource) Stop() {
	s.extractor.Stop()
}
