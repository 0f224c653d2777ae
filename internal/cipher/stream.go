package cipher

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
)

// chunkLengthSize is the width of the (AEAD-sealed) chunk length prefix.
const chunkLengthSize = 2

// Reader decrypts an AEAD-chunked stream: each chunk is a sealed 2-byte
// big-endian length followed by a sealed payload of that length, capped at
// MaxChunkSize. Not safe for concurrent use; each connection owns one.
type Reader struct {
	src   io.Reader
	aead  cipher.AEAD
	nonce []byte

	buf     []byte // leftover decrypted payload not yet consumed
	lenCT   []byte // scratch: sealed length chunk
	payload []byte // scratch: sealed payload chunk
}

// NewReader wraps src, decrypting chunks sealed under aead with an
// incrementing nonce starting at all-zero, per connection direction.
func NewReader(src io.Reader, aead cipher.AEAD) *Reader {
	return &Reader{
		src:   src,
		aead:  aead,
		nonce: make([]byte, aead.NonceSize()),
		lenCT: make([]byte, chunkLengthSize+aead.Overhead()),
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if err := r.readChunk(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *Reader) readChunk() error {
	if _, err := io.ReadFull(r.src, r.lenCT); err != nil {
		return err
	}
	lenPT, err := r.aead.Open(r.lenCT[:0], r.nonce, r.lenCT, nil)
	if err != nil {
		return fmt.Errorf("decrypt chunk length: %w", err)
	}
	incNonce(r.nonce)

	size := int(binary.BigEndian.Uint16(lenPT)) & MaxChunkSize
	if cap(r.payload) < size+r.aead.Overhead() {
		r.payload = make([]byte, size+r.aead.Overhead())
	}
	payloadCT := r.payload[:size+r.aead.Overhead()]
	if _, err := io.ReadFull(r.src, payloadCT); err != nil {
		return err
	}
	payloadPT, err := r.aead.Open(payloadCT[:0], r.nonce, payloadCT, nil)
	if err != nil {
		return fmt.Errorf("decrypt chunk payload: %w", err)
	}
	incNonce(r.nonce)

	r.buf = payloadPT
	return nil
}

// Writer encrypts a stream into AEAD chunks capped at MaxChunkSize bytes of
// plaintext each.
type Writer struct {
	dst   io.Writer
	aead  cipher.AEAD
	nonce []byte

	scratch []byte
}

// NewWriter wraps dst, sealing chunks under aead with an incrementing nonce
// starting at all-zero, independent from the Reader's nonce space for the
// same connection (one AEAD instance per direction).
func NewWriter(dst io.Writer, aead cipher.AEAD) *Writer {
	return &Writer{
		dst:   dst,
		aead:  aead,
		nonce: make([]byte, aead.NonceSize()),
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > MaxChunkSize {
			n = MaxChunkSize
		}
		if err := w.writeChunk(p[:n]); err != nil {
			return total, err
		}
		p = p[n:]
		total += n
	}
	return total, nil
}

func (w *Writer) writeChunk(plaintext []byte) error {
	overhead := w.aead.Overhead()
	need := chunkLengthSize + overhead + len(plaintext) + overhead
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	out := w.scratch[:0]

	var lenBuf [chunkLengthSize]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(plaintext)))

	out = w.aead.Seal(out, w.nonce, lenBuf[:], nil)
	incNonce(w.nonce)

	out = w.aead.Seal(out, w.nonce, plaintext, nil)
	incNonce(w.nonce)

	_, err := w.dst.Write(out)
	return err
}

// incNonce increments a little-endian nonce counter in place, the standard
// shadowsocks AEAD nonce progression.
func incNonce(nonce []byte) {
	for i := range nonce {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}
