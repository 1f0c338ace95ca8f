// Package ops defines the typed messages exchanged between an orchestrator and its execution
// units. Every operation has its own request and result type; a Result is only valid for the
// operation that produced it.
package ops

import (
	"github.com/jzx17/vaultworker/pkg/filecodec"
	"github.com/jzx17/vaultworker/pkg/searchindex"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/vaultcrypto"
)

// Request is the closed set of operation payloads
type Request interface {
	Operation() types.Operation
	isRequest()
}

// Result is the closed set of operation results
type Result interface {
	Operation() types.Operation
	isResult()
}

// Sizer is implemented by payloads that carry a meaningful number of bytes
type Sizer interface {
	Size() int
}

// Message is dispatched from an instance to its execution unit
type Message struct {
	ID      string
	Request Request
}

// Response is returned by an execution unit for a Message with the same ID
type Response struct {
	ID        string
	Success   bool
	Result    Result
	Error     string
	ErrorCode string
	Metrics   *types.ExecMetrics
}

// Err returns the operation error carried by a failed response
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	code := r.ErrorCode
	if code == "" {
		code = types.CodeOperationFailed
	}
	return &types.OperationError{Code: code, Message: r.Error}
}

// Matches reports whether result is a well-formed answer to op
func Matches(op types.Operation, result Result) bool {
	return result != nil && result.Operation() == op
}

// PayloadSize returns the size of a request or result payload, 0 when unknown
func PayloadSize(v any) int {
	if s, ok := v.(Sizer); ok {
		return s.Size()
	}
	return 0
}

// WorkerTypeOf returns the capability that serves op. Ping is served by every type and
// reports false.
func WorkerTypeOf(op types.Operation) (types.WorkerType, bool) {
	switch op {
	case types.OpDeriveKey, types.OpEncrypt, types.OpDecrypt:
		return types.WorkerTypeEncryption, true
	case types.OpIndex, types.OpQuery, types.OpRemove:
		return types.WorkerTypeSearch, true
	case types.OpChunkFile, types.OpAssembleFile, types.OpHashFile:
		return types.WorkerTypeFileProcessing, true
	default:
		return "", false
	}
}

// Supports reports whether a worker of type wt can serve op
func Supports(wt types.WorkerType, op types.Operation) bool {
	if op == types.OpPing {
		return wt.Valid()
	}
	owner, ok := WorkerTypeOf(op)
	return ok && owner == wt
}

// Ping is the reserved health probe
type Ping struct{}

// Pong answers a Ping
type Pong struct{}

// DeriveKey derives a symmetric key from a password
type DeriveKey struct {
	Password []byte
	Salt     []byte
}

// DerivedKey is the result of DeriveKey
type DerivedKey struct {
	Key []byte
}

// Encrypt seals Plaintext under Key, bound to Context
type Encrypt struct {
	Plaintext []byte
	Key       []byte
	Context   []byte
}

// Encrypted is the result of Encrypt
type Encrypted struct {
	Envelope *vaultcrypto.Envelope
}

// Decrypt opens an envelope produced by Encrypt
type Decrypt struct {
	Envelope *vaultcrypto.Envelope
	Key      []byte
	Context  []byte
}

// Decrypted is the result of Decrypt
type Decrypted struct {
	Plaintext []byte
}

// Index adds or replaces items; Replace swaps the whole index for Items
type Index struct {
	Items   []searchindex.Item
	Replace bool
}

// Indexed is the result of Index
type Indexed struct {
	Count int
	Size  int
}

// Query searches the index
type Query struct {
	Criteria searchindex.Criteria
}

// QueryResult is the result of Query
type QueryResult struct {
	Hits []searchindex.Hit
}

// Remove deletes items by id
type Remove struct {
	IDs []string
}

// Removed is the result of Remove
type Removed struct {
	Count int
	Size  int
}

// ChunkFile splits an attachment into chunks
type ChunkFile struct {
	Data   []byte
	Config filecodec.Config
}

// Chunked is the result of ChunkFile
type Chunked struct {
	Chunks []filecodec.Chunk
}

// AssembleFile joins chunks back into the attachment
type AssembleFile struct {
	Chunks []filecodec.Chunk
}

// Assembled is the result of AssembleFile
type Assembled struct {
	Data []byte
}

// HashFile digests an attachment
type HashFile struct {
	Data []byte
}

// Hashed is the result of HashFile
type Hashed struct {
	Digest string
}

func (Ping) Operation() types.Operation         { return types.OpPing }
func (DeriveKey) Operation() types.Operation    { return types.OpDeriveKey }
func (Encrypt) Operation() types.Operation      { return types.OpEncrypt }
func (Decrypt) Operation() types.Operation      { return types.OpDecrypt }
func (Index) Operation() types.Operation        { return types.OpIndex }
func (Query) Operation() types.Operation        { return types.OpQuery }
func (Remove) Operation() types.Operation       { return types.OpRemove }
func (ChunkFile) Operation() types.Operation    { return types.OpChunkFile }
func (AssembleFile) Operation() types.Operation { return types.OpAssembleFile }
func (HashFile) Operation() types.Operation     { return types.OpHashFile }

func (Pong) Operation() types.Operation        { return types.OpPing }
func (DerivedKey) Operation() types.Operation  { return types.OpDeriveKey }
func (Encrypted) Operation() types.Operation   { return types.OpEncrypt }
func (Decrypted) Operation() types.Operation   { return types.OpDecrypt }
func (Indexed) Operation() types.Operation     { return types.OpIndex }
func (QueryResult) Operation() types.Operation { return types.OpQuery }
func (Removed) Operation() types.Operation     { return types.OpRemove }
func (Chunked) Operation() types.Operation     { return types.OpChunkFile }
func (Assembled) Operation() types.Operation   { return types.OpAssembleFile }
func (Hashed) Operation() types.Operation      { return types.OpHashFile }

func (Ping) isRequest()         {}
func (DeriveKey) isRequest()    {}
func (Encrypt) isRequest()      {}
func (Decrypt) isRequest()      {}
func (Index) isRequest()        {}
func (Query) isRequest()        {}
func (Remove) isRequest()       {}
func (ChunkFile) isRequest()    {}
func (AssembleFile) isRequest() {}
func (HashFile) isRequest()     {}

func (Pong) isResult()        {}
func (DerivedKey) isResult()  {}
func (Encrypted) isResult()   {}
func (Decrypted) isResult()   {}
func (Indexed) isResult()     {}
func (QueryResult) isResult() {}
func (Removed) isResult()     {}
func (Chunked) isResult()     {}
func (Assembled) isResult()   {}
func (Hashed) isResult()      {}

func (r Encrypt) Size() int { return len(r.Plaintext) }
func (r Decrypt) Size() int {
	if r.Envelope == nil {
		return 0
	}
	return len(r.Envelope.Ciphertext)
}
func (r Index) Size() int     { return len(r.Items) }
func (r Remove) Size() int    { return len(r.IDs) }
func (r ChunkFile) Size() int { return len(r.Data) }
func (r HashFile) Size() int  { return len(r.Data) }
func (r AssembleFile) Size() int {
	n := 0
	for _, c := range r.Chunks {
		n += c.Size
	}
	return n
}

func (r Encrypted) Size() int {
	if r.Envelope == nil {
		return 0
	}
	return len(r.Envelope.Ciphertext)
}
func (r Decrypted) Size() int { return len(r.Plaintext) }
func (r Assembled) Size() int { return len(r.Data) }
func (r Chunked) Size() int {
	n := 0
	for _, c := range r.Chunks {
		n += len(c.Data)
	}
	return n
}
