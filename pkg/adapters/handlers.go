package adapters

import (
	"context"
	"fmt"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/searchindex"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

// EncryptionHandler serves encryption requests inside a worker
type EncryptionHandler struct {
	Crypto Encryptor
}

// Handle implements worker.Handler
func (h *EncryptionHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	switch r := req.(type) {
	case ops.DeriveKey:
		key, err := h.Crypto.DeriveKey(r.Password, r.Salt)
		if err != nil {
			return nil, err
		}
		return ops.DerivedKey{Key: key}, nil
	case ops.Encrypt:
		env, err := h.Crypto.Encrypt(r.Plaintext, r.Key, r.Context)
		if err != nil {
			return nil, err
		}
		return ops.Encrypted{Envelope: env}, nil
	case ops.Decrypt:
		plaintext, err := h.Crypto.Decrypt(r.Envelope, r.Key, r.Context)
		if err != nil {
			return nil, err
		}
		return ops.Decrypted{Plaintext: plaintext}, nil
	default:
		return nil, unsupported(types.WorkerTypeEncryption, req)
	}
}

// SearchHandler serves search requests against the worker's own index
type SearchHandler struct {
	Index SearchIndex
}

// Handle implements worker.Handler
func (h *SearchHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	switch r := req.(type) {
	case ops.Index:
		var n int
		if r.Replace {
			n = h.Index.Replace(r.Items)
		} else {
			n = h.Index.Index(r.Items)
		}
		return ops.Indexed{Count: n, Size: h.Index.Len()}, nil
	case ops.Query:
		return ops.QueryResult{Hits: h.Index.Query(r.Criteria)}, nil
	case ops.Remove:
		n := h.Index.Remove(r.IDs)
		return ops.Removed{Count: n, Size: h.Index.Len()}, nil
	default:
		return nil, unsupported(types.WorkerTypeSearch, req)
	}
}

// FileHandler serves attachment requests inside a worker
type FileHandler struct {
	Codec FileCodec
}

// Handle implements worker.Handler
func (h *FileHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	switch r := req.(type) {
	case ops.ChunkFile:
		chunks, err := h.Codec.Chunk(r.Data, r.Config)
		if err != nil {
			return nil, err
		}
		return ops.Chunked{Chunks: chunks}, nil
	case ops.AssembleFile:
		data, err := h.Codec.Assemble(r.Chunks)
		if err != nil {
			return nil, err
		}
		return ops.Assembled{Data: data}, nil
	case ops.HashFile:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return ops.Hashed{Digest: h.Codec.Hash(r.Data)}, nil
	default:
		return nil, unsupported(types.WorkerTypeFileProcessing, req)
	}
}

func unsupported(wt types.WorkerType, req ops.Request) error {
	return types.NewOperationError(types.CodeUnsupportedOperation, "%s worker does not serve %s", wt, req.Operation())
}

// Collaborators are the libraries the worker handlers run
type Collaborators struct {
	Crypto Encryptor
	Codec  FileCodec

	// NewIndex builds the private index of each new search instance. Nil means searchindex.New.
	NewIndex func() SearchIndex
}

// RegisterHandlers registers a handler factory for every worker type on o. Each search instance
// gets a fresh index that the search adapter seeds.
func RegisterHandlers(o *orchestrator.Orchestrator, c Collaborators) error {
	if c.Crypto == nil || c.Codec == nil {
		return fmt.Errorf("register handlers: crypto and codec collaborators are required")
	}
	newIndex := c.NewIndex
	if newIndex == nil {
		newIndex = func() SearchIndex { return searchindex.New() }
	}

	factories := map[types.WorkerType]orchestrator.HandlerFactory{
		types.WorkerTypeEncryption: func(types.WorkerType) (worker.Handler, error) {
			return &EncryptionHandler{Crypto: c.Crypto}, nil
		},
		types.WorkerTypeSearch: func(types.WorkerType) (worker.Handler, error) {
			return &SearchHandler{Index: newIndex()}, nil
		},
		types.WorkerTypeFileProcessing: func(types.WorkerType) (worker.Handler, error) {
			return &FileHandler{Codec: c.Codec}, nil
		},
	}
	for wt, f := range factories {
		if err := o.Register(wt, f); err != nil {
			return err
		}
	}
	return nil
}
