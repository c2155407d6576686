package proxy

import "io"

// TeeReader wraps an upstream byte stream, yielding each chunk unchanged to
// the reader while appending a copy to an internal buffer. The buffered
// bytes are delivered once, through Done, after the stream ends. The client
// path pays one memcpy per chunk and nothing else.
type TeeReader struct {
	src  io.ReadCloser
	buf  []byte
	done chan []byte
	sent bool
}

// NewTeeReader wraps src. The returned reader must be read to completion
// (or closed) for Done to fire.
func NewTeeReader(src io.ReadCloser) *TeeReader {
	return &TeeReader{
		src:  src,
		done: make(chan []byte, 1),
	}
}

// Read forwards the next chunk, copying it into the side buffer. Chunk
// boundaries and byte order are preserved exactly on both paths.
func (t *TeeReader) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.buf = append(t.buf, p[:n]...)
	}
	if err == io.EOF {
		t.deliver()
	}
	return n, err
}

// Close closes the upstream and delivers whatever was buffered so far.
func (t *TeeReader) Close() error {
	err := t.src.Close()
	t.deliver()
	return err
}

// Done yields the buffered copy exactly once after end-of-stream.
func (t *TeeReader) Done() <-chan []byte {
	return t.done
}

func (t *TeeReader) deliver() {
	if t.sent {
		return
	}
	t.sent = true
	t.done <- t.buf
}
