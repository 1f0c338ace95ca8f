package orchestrator

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/vaultworker/internal/testutils"
	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/worker"
)

func TestPrometheusMetricsCollector(t *testing.T) {
	ctx := testutils.Context(t)
	pmc := NewPrometheusMetricsCollector("test")
	o := newTestOrchestrator(&Config{Metrics: pmc}, &stubHandler{})

	_, _, err := Call[ops.Encrypted](ctx, o, types.WorkerTypeEncryption, encryptReq(), nil)
	require.NoError(t, err)
	_, _, err = Call[ops.Decrypted](ctx, o, types.WorkerTypeEncryption, ops.Decrypt{Key: []byte("wrong")}, nil)
	require.Error(t, err)

	enc := string(types.WorkerTypeEncryption)
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.lifecycle.WithLabelValues(enc, "started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.healthy.WithLabelValues(enc)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.completed.WithLabelValues(enc, string(types.OpPing), string(worker.OutcomeSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.completed.WithLabelValues(enc, string(types.OpEncrypt), string(worker.OutcomeSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.completed.WithLabelValues(enc, string(types.OpDecrypt), string(worker.OutcomeOperationError))))
	assert.Equal(t, 3.0, testutil.ToFloat64(pmc.admitted.WithLabelValues(enc, types.PriorityNormal.String(), "false"))+
		testutil.ToFloat64(pmc.admitted.WithLabelValues(enc, types.PriorityHigh.String(), "false")))

	pmc.Fallback(types.WorkerTypeSearch, types.OpQuery, "unavailable")
	pmc.HealthProbe(types.WorkerTypeSearch, false, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.fallbacks.WithLabelValues("search", string(types.OpQuery), "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.probes.WithLabelValues("search", "unhealthy")))

	require.NoError(t, o.Close())
	assert.Equal(t, 0.0, testutil.ToFloat64(pmc.healthy.WithLabelValues(enc)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.lifecycle.WithLabelValues(enc, "terminated")))

	n, err := testutil.GatherAndCount(pmc.Registry(), "test_requests_completed_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
