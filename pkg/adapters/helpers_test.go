package adapters

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jzx17/vaultworker/pkg/filecodec"
	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/searchindex"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/vaultcrypto"
	"github.com/jzx17/vaultworker/pkg/worker"
)

func testCipher() *vaultcrypto.Cipher {
	return vaultcrypto.New(vaultcrypto.WithKDFParams(vaultcrypto.KDFParams{Time: 1, Memory: 64, Threads: 1}))
}

func testKey() []byte {
	key := make([]byte, vaultcrypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

// newOrchestrator returns an orchestrator serving every worker type with the real collaborators
func newOrchestrator(t *testing.T, cfg *orchestrator.Config) *orchestrator.Orchestrator {
	t.Helper()
	if cfg == nil {
		cfg = orchestrator.DefaultConfig()
	}
	o := orchestrator.New(cfg)
	require.NoError(t, RegisterHandlers(o, Collaborators{Crypto: testCipher(), Codec: filecodec.New()}))
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// hangingHandler wraps a handler; while hung it answers nothing. Pings hang only when
// pings is set too.
type hangingHandler struct {
	worker.Handler
	hung  atomic.Bool
	pings atomic.Bool
}

func (h *hangingHandler) Handle(ctx context.Context, req ops.Request) (ops.Result, error) {
	if h.hung.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return h.Handler.Handle(ctx, req)
}

func (h *hangingHandler) Ping(ctx context.Context) error {
	if h.pings.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func register(t *testing.T, o *orchestrator.Orchestrator, wt types.WorkerType, h worker.Handler) {
	t.Helper()
	require.NoError(t, o.Register(wt, func(types.WorkerType) (worker.Handler, error) {
		return h, nil
	}))
}

func vaultItems() []searchindex.Item {
	return []searchindex.Item{
		{ID: "1", Title: "Mail account", Username: "alice", URL: "https://mail.example.com", Tags: []string{"personal"}},
		{ID: "2", Title: "Bank", Username: "alice.smith", URL: "https://bank.example.com", Tags: []string{"finance"}},
		{ID: "3", Title: "Work mail", Username: "asmith", URL: "https://mail.corp.example", Tags: []string{"work"}},
		{ID: "4", Title: "Router admin", Username: "admin", URL: "http://192.168.1.1", Tags: []string{"home"}},
	}
}
