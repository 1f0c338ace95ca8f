package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jzx17/vaultworker/pkg/filecodec"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/vaultcrypto"
)

func TestMatches(t *testing.T) {
	assert.True(t, Matches(types.OpEncrypt, Encrypted{}))
	assert.True(t, Matches(types.OpPing, Pong{}))
	assert.False(t, Matches(types.OpEncrypt, Decrypted{}))
	assert.False(t, Matches(types.OpQuery, nil))
}

func TestSupports(t *testing.T) {
	tests := []struct {
		wt   types.WorkerType
		req  Request
		want bool
	}{
		{types.WorkerTypeEncryption, Encrypt{}, true},
		{types.WorkerTypeEncryption, DeriveKey{}, true},
		{types.WorkerTypeSearch, Encrypt{}, false},
		{types.WorkerTypeSearch, Query{}, true},
		{types.WorkerTypeFileProcessing, ChunkFile{}, true},
		{types.WorkerTypeFileProcessing, Remove{}, false},
		{types.WorkerTypeSearch, Ping{}, true},
		{types.WorkerType("thumbnail"), Ping{}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Supports(tt.wt, tt.req.Operation()), "%s/%s", tt.wt, tt.req.Operation())
	}
}

func TestResponseErr(t *testing.T) {
	assert.NoError(t, Response{Success: true, Result: Pong{}}.Err())

	err := Response{Error: "wrong key", ErrorCode: vaultcrypto.CodeDecryptionFailed}.Err()
	assert.Equal(t, vaultcrypto.CodeDecryptionFailed, types.ErrorCode(err))

	err = Response{Error: "boom"}.Err()
	assert.Equal(t, types.CodeOperationFailed, types.ErrorCode(err))
	assert.True(t, types.IsOperationError(err))
}

func TestPayloadSize(t *testing.T) {
	assert.Equal(t, 5, PayloadSize(Encrypt{Plaintext: []byte("hello")}))
	assert.Equal(t, 0, PayloadSize(Decrypt{}))
	assert.Equal(t, 0, PayloadSize(Ping{}))
	assert.Equal(t, 30, PayloadSize(AssembleFile{Chunks: []filecodec.Chunk{{Size: 10}, {Size: 20}}}))
	assert.Equal(t, 3, PayloadSize(Chunked{Chunks: []filecodec.Chunk{{Data: []byte("abc")}}}))
}
