package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

var errRecorderClosed = errors.New("audio: recorder closed")

// Recording describes a finished recording.
type Recording struct {
	Path       string        `json:"path"`
	Format     Format        `json:"format"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	Compressed bool          `json:"compressed"`
}

// Recorder appends PCM frames to a file, optionally zstd-compressed. Frames
// in another format than the recorder's are converted first. Safe for
// concurrent use.
type Recorder struct {
	mu      sync.Mutex
	path    string
	file    io.WriteCloser
	w       io.Writer
	enc     *zstd.Encoder
	conv    *FormatConverter
	written int64
	closed  bool
	result  Recording
}

// CreateRecorder creates path and returns a recorder writing raw PCM in
// format to it. With compress set, a ".zst" suffix is appended to path unless
// already present.
func CreateRecorder(path string, format Format, compress bool) (*Recorder, error) {
	conv, err := NewFormatConverter(format)
	if err != nil {
		return nil, fmt.Errorf("audio: create recorder: %w", err)
	}
	if compress && !strings.HasSuffix(path, ".zst") {
		path += ".zst"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audio: create recorder dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create recorder: %w", err)
	}
	return newRecorder(path, f, conv, compress)
}

// NewRecorder returns a recorder writing to w. Close closes w.
func NewRecorder(w io.WriteCloser, format Format, compress bool) (*Recorder, error) {
	conv, err := NewFormatConverter(format)
	if err != nil {
		return nil, fmt.Errorf("audio: new recorder: %w", err)
	}
	return newRecorder("", w, conv, compress)
}

func newRecorder(path string, f io.WriteCloser, conv *FormatConverter, compress bool) (*Recorder, error) {
	r := &Recorder{path: path, file: f, w: f, conv: conv}
	if compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("audio: create zstd encoder: %w", err)
		}
		r.enc = enc
		r.w = enc
	}
	return r, nil
}

// Write appends frame to the recording.
func (r *Recorder) Write(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRecorderClosed
	}
	converted, err := r.conv.Convert(frame)
	if err != nil {
		return err
	}
	n, err := r.w.Write(converted.Data)
	r.written += int64(n)
	if err != nil {
		return fmt.Errorf("audio: record: %w", err)
	}
	return nil
}

// Close finalises the recording and reports its size and duration. Calling
// Close again returns the same result.
func (r *Recorder) Close() (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.result, nil
	}
	r.closed = true

	var errs []error
	if r.enc != nil {
		if err := r.enc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finalize compression: %w", err))
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}

	format := r.conv.Target()
	r.result = Recording{
		Path:       r.path,
		Format:     format,
		Bytes:      r.written,
		Duration:   format.Duration(int(r.written)),
		Compressed: r.enc != nil,
	}
	if len(errs) > 0 {
		return r.result, fmt.Errorf("audio: close recorder: %w", errors.Join(errs...))
	}
	return r.result, nil
}

// OpenRecording returns a reader over the raw PCM of a recording written by
// [Recorder], decompressing ".zst" files.
func OpenRecording(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open recording: %w", err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: create zstd decoder: %w", err)
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}
