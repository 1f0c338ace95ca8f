// Package filecodec is the reference attachment codec: fixed-size chunking, optional brotli
// compression per chunk and sha256 digests for integrity checks on reassembly.
package filecodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"runtime"
	"sort"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/vaultworker/pkg/types"
)

// Operation error codes
const (
	CodeInvalidConfig  = "INVALID_CHUNK_CONFIG"
	CodeMissingChunk   = "MISSING_CHUNK"
	CodeChunkCorrupted = "CHUNK_CORRUPTED"
	CodeCompression    = "COMPRESSION_FAILED"
)

// maxChunkSize bounds a single decompressed chunk
const maxChunkSize = 64 << 20

// Config controls chunking
type Config struct {
	// ChunkSize is the plaintext size of every chunk but the last
	ChunkSize int

	// Compress enables brotli compression of each chunk
	Compress bool

	// Level is the brotli quality, 0..11
	Level int

	// Parallelism bounds concurrent chunk encoding; 0 means GOMAXPROCS
	Parallelism int
}

// DefaultConfig returns 1 MiB chunks with brotli at a fast level
func DefaultConfig() Config {
	return Config{
		ChunkSize: 1 << 20,
		Compress:  true,
		Level:     brotli.DefaultCompression,
	}
}

// Chunk is one encoded piece of an attachment
type Chunk struct {
	Index      int
	Size       int    // plaintext size
	Digest     string // sha256 of the plaintext
	Compressed bool
	Data       []byte
}

// Codec is stateless and safe for concurrent use
type Codec struct{}

// New creates a codec
func New() *Codec {
	return &Codec{}
}

// Hash returns the hex sha256 digest of data
func (c *Codec) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Chunk splits data into chunks according to cfg
func (c *Codec) Chunk(data []byte, cfg Config) ([]Chunk, error) {
	if cfg.ChunkSize <= 0 {
		return nil, types.NewOperationError(CodeInvalidConfig, "chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Level < brotli.BestSpeed || cfg.Level > brotli.BestCompression {
		return nil, types.NewOperationError(CodeInvalidConfig, "compression level must be 0..11, got %d", cfg.Level)
	}

	n := (len(data) + cfg.ChunkSize - 1) / cfg.ChunkSize
	chunks := make([]Chunk, n)

	g := new(errgroup.Group)
	g.SetLimit(parallelism(cfg.Parallelism))
	for i := 0; i < n; i++ {
		start := i * cfg.ChunkSize
		end := min(start+cfg.ChunkSize, len(data))
		g.Go(func() error {
			chunk, err := c.encode(i, data[start:end], cfg)
			if err != nil {
				return err
			}
			chunks[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// Assemble verifies and concatenates chunks. Chunks may arrive in any order.
func (c *Codec) Assemble(chunks []Chunk) ([]byte, error) {
	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	parts := make([][]byte, len(ordered))
	g := new(errgroup.Group)
	g.SetLimit(parallelism(0))
	for i, chunk := range ordered {
		if chunk.Index != i {
			return nil, types.NewOperationError(CodeMissingChunk, "expected chunk %d, got %d", i, chunk.Index)
		}
		g.Go(func() error {
			plain, err := c.decode(chunk)
			if err != nil {
				return err
			}
			parts[i] = plain
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bytes.Join(parts, nil), nil
}

func (c *Codec) encode(index int, plain []byte, cfg Config) (Chunk, error) {
	chunk := Chunk{
		Index:  index,
		Size:   len(plain),
		Digest: c.Hash(plain),
	}
	if !cfg.Compress {
		chunk.Data = append([]byte(nil), plain...)
		return chunk, nil
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, cfg.Level)
	if _, err := w.Write(plain); err != nil {
		return Chunk{}, types.NewOperationError(CodeCompression, "compressing chunk %d: %v", index, err)
	}
	if err := w.Close(); err != nil {
		return Chunk{}, types.NewOperationError(CodeCompression, "compressing chunk %d: %v", index, err)
	}
	chunk.Compressed = true
	chunk.Data = buf.Bytes()
	return chunk, nil
}

func (c *Codec) decode(chunk Chunk) ([]byte, error) {
	plain := chunk.Data
	if chunk.Compressed {
		r := brotli.NewReader(bytes.NewReader(chunk.Data))
		var err error
		plain, err = io.ReadAll(io.LimitReader(r, maxChunkSize+1))
		if err != nil {
			return nil, types.NewOperationError(CodeChunkCorrupted, "chunk %d: %v", chunk.Index, err)
		}
	}
	if len(plain) != chunk.Size || c.Hash(plain) != chunk.Digest {
		return nil, types.NewOperationError(CodeChunkCorrupted, "chunk %d failed its integrity check", chunk.Index)
	}
	return plain, nil
}

func parallelism(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}
