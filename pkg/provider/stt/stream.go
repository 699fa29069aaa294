package stt

import (
	"context"
	"errors"
	"io"
)

// DefaultChunkBytes is the read size used by [SendChunks] when chunk <= 0.
const DefaultChunkBytes = 8192

// SendChunks reads r until io.EOF and passes each non-empty chunk to send.
// It returns the number of chunks sent. ctx is checked between reads. A clean
// EOF returns a nil error.
//
// send must not retain the slice; it is reused for the next read.
func SendChunks(ctx context.Context, r io.Reader, chunk int, send func([]byte) error) (int, error) {
	if chunk <= 0 {
		chunk = DefaultChunkBytes
	}
	buf := make([]byte, chunk)
	var sent int
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if serr := send(buf[:n]); serr != nil {
				return sent, serr
			}
			sent++
		}
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}
