package adapters

import (
	"context"

	"github.com/jzx17/vaultworker/pkg/filecodec"
	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/types"
)

// DefaultFileThreshold matches the orchestrator's on-demand threshold for file workers
const DefaultFileThreshold = 1 << 20

// FileCodec is the attachment collaborator. filecodec.Codec implements it.
type FileCodec interface {
	Chunk(data []byte, cfg filecodec.Config) ([]filecodec.Chunk, error)
	Assemble(chunks []filecodec.Chunk) ([]byte, error)
	Hash(data []byte) string
}

// FileAdapter routes attachment processing to the file worker
type FileAdapter struct {
	base
	local FileCodec
}

// NewFileAdapter creates a file adapter. o may be nil.
func NewFileAdapter(o *orchestrator.Orchestrator, local FileCodec, opts ...Option) *FileAdapter {
	s := newSettings(DefaultFileThreshold, opts)
	return &FileAdapter{
		base:  newBase(o, types.WorkerTypeFileProcessing, s),
		local: local,
	}
}

// Chunk splits data into chunks
func (a *FileAdapter) Chunk(ctx context.Context, data []byte, cfg filecodec.Config, opts ...CallOption) ([]filecodec.Chunk, Report, error) {
	c := newCall(opts)
	req := ops.ChunkFile{Data: data, Config: cfg}
	res, rep, err := run(ctx, &a.base, c, c.decide(a.shouldUseWorker(req)), req,
		func() (ops.Chunked, error) {
			chunks, err := a.local.Chunk(data, cfg)
			return ops.Chunked{Chunks: chunks}, err
		})
	return res.Chunks, rep, err
}

// Assemble joins chunks back into the original data
func (a *FileAdapter) Assemble(ctx context.Context, chunks []filecodec.Chunk, opts ...CallOption) ([]byte, Report, error) {
	c := newCall(opts)
	req := ops.AssembleFile{Chunks: chunks}
	res, rep, err := run(ctx, &a.base, c, c.decide(a.shouldUseWorker(req)), req,
		func() (ops.Assembled, error) {
			data, err := a.local.Assemble(chunks)
			return ops.Assembled{Data: data}, err
		})
	return res.Data, rep, err
}

// Hash returns the hex sha256 digest of data
func (a *FileAdapter) Hash(ctx context.Context, data []byte, opts ...CallOption) (string, Report, error) {
	c := newCall(opts)
	req := ops.HashFile{Data: data}
	res, rep, err := run(ctx, &a.base, c, c.decide(a.shouldUseWorker(req)), req,
		func() (ops.Hashed, error) {
			return ops.Hashed{Digest: a.local.Hash(data)}, nil
		})
	return res.Digest, rep, err
}

func (a *FileAdapter) shouldUseWorker(req ops.Request) bool {
	return ops.PayloadSize(req) >= a.threshold
}
