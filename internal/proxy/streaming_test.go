package proxy

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type chunkReader struct {
	chunks []string
	pos    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.pos])
	r.pos++
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

func TestTeePreservesBytesAndChunks(t *testing.T) {
	chunks := []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\" World\"}}]}\n\n",
		"data: [DONE]\n\n",
	}
	tee := NewTeeReader(&chunkReader{chunks: chunks})

	var client []string
	buf := make([]byte, 1024)
	for {
		n, err := tee.Read(buf)
		if n > 0 {
			client = append(client, string(buf[:n]))
		}
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}

	// Client path: byte-identical chunks in order.
	require.Equal(t, chunks, client)

	// Buffered path: same bytes in the same order.
	raw := <-tee.Done()
	require.Equal(t, strings.Join(chunks, ""), string(raw))
}

func TestTeeDeliversOnceOnClose(t *testing.T) {
	tee := NewTeeReader(io.NopCloser(strings.NewReader("partial")))
	buf := make([]byte, 3)
	n, err := tee.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "par", string(buf[:n]))

	require.NoError(t, tee.Close())
	require.Equal(t, "par", string(<-tee.Done()))
}
