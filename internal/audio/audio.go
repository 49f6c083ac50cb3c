// Package audio feeds the sender's transmit loop with fixed-size chunks
// of 16-bit PCM. Samples come from a raw PCM file, a WAV file with its
// header stripped, or a synthetic tone when no file is given.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cs244-team/sidekick/internal/conqueue"
)

// wavHeaderLen is the canonical PCM WAV header size skipped during
// conversion.
const wavHeaderLen = 44

// defaultBufferDepth bounds the outbound sample buffer so a slow transmit
// loop back-pressures the producer instead of growing without bound.
const defaultBufferDepth = 1024

// Buffer is the bounded hand-off between the sample producer and the
// transmit loop.
type Buffer struct {
	samples *conqueue.Queue[[]byte]
}

// NewBuffer returns an empty buffer with the default depth.
func NewBuffer() *Buffer {
	return &Buffer{samples: conqueue.New[[]byte](defaultBufferDepth)}
}

// Add blocks until there is room, then enqueues one sample chunk.
func (b *Buffer) Add(sample []byte) {
	b.samples.Push(sample)
}

// Pop blocks until a sample chunk is available.
func (b *Buffer) Pop() []byte {
	return b.samples.Pop()
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	return b.samples.Len()
}

// LoadPCM reads sampleSize-byte chunks of raw PCM from path into the
// buffer, blocking as the buffer fills. A short final chunk is delivered
// as-is. Returns the number of chunks loaded.
func (b *Buffer) LoadPCM(path string, sampleSize int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening audio file: %w", err)
	}
	defer f.Close()

	loaded := 0
	for {
		chunk := make([]byte, sampleSize)
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			b.Add(chunk[:n])
			loaded++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return loaded, nil
		}
		if err != nil {
			return loaded, fmt.Errorf("reading audio file: %w", err)
		}
	}
}

// GenerateTone fills the buffer with count chunks of a 440 Hz sine at
// 8 kHz, sampleSize bytes per chunk. Used when no audio file is
// configured.
func (b *Buffer) GenerateTone(count, sampleSize int) {
	const (
		sampleRate = 8000
		freq       = 440.0
		amplitude  = 0.3 * math.MaxInt16
	)
	n := 0
	for c := 0; c < count; c++ {
		chunk := make([]byte, sampleSize)
		for i := 0; i+1 < sampleSize; i += 2 {
			v := int16(amplitude * math.Sin(2*math.Pi*freq*float64(n)/sampleRate))
			binary.LittleEndian.PutUint16(chunk[i:], uint16(v))
			n++
		}
		b.Add(chunk)
	}
}

// WavToPCM strips the 44-byte WAV header from src and writes the raw PCM
// body to dst.
func WavToPCM(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening wav file: %w", err)
	}
	defer in.Close()

	if _, err := in.Seek(wavHeaderLen, io.SeekStart); err != nil {
		return fmt.Errorf("skipping wav header: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating pcm file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("converting wav to pcm: %w", err)
	}
	return nil
}
