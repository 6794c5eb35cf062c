package smb2core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.pduAllocated()
	m.pduReleased()
	m.pduQueued(SMB2_READ, 10)
	m.pduCompleted(SMB2_READ, outcomeSuccess)
	m.pduFailed(SMB2_READ, stageEncode)
}

func TestMetrics_Lifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	tr := &captureTransport{}
	c, err := NewContext(tr, &Config{Metrics: m})
	require.NoError(t, err)

	rec := &callRecorder{}
	submitTestCreate(t, c, rec, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submitted.WithLabelValues("CREATE")))
	assert.Greater(t, testutil.ToFloat64(m.outboundBytes.WithLabelValues("CREATE")), 0.0)

	require.NoError(t, c.OnReply(tr.last(t), rawReply(SMB2_CREATE, STATUS_SUCCESS, createReplyBody(fileIDOf(1), FILE_OPENED))))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("CREATE", outcomeSuccess)))
}

func TestMetrics_Outcomes(t *testing.T) {
	m := NewMetrics(nil)
	tr := &captureTransport{}
	c, err := NewContext(tr, &Config{Metrics: m})
	require.NoError(t, err)

	rec := &callRecorder{}
	errBody := []byte{SMB2_ERROR_REPLY_SIZE, 0, 0, 0, 0, 0, 0, 0, 0}
	submitTestCreate(t, c, rec, nil)
	require.NoError(t, c.OnReply(tr.last(t), rawReply(SMB2_CREATE, STATUS_ACCESS_DENIED, errBody)))

	submitTestCreate(t, c, rec, nil)
	require.Error(t, c.OnReply(tr.last(t), rawReply(SMB2_CREATE, STATUS_SUCCESS, []byte{1, 2, 3})))

	submitTestCreate(t, c, rec, nil)
	c.FreePDU(tr.last(t))

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("CREATE", outcomeStatus)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("CREATE", outcomeBadMessage)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("CREATE", stageFreed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestMetrics_QueueFailure(t *testing.T) {
	m := NewMetrics(nil)
	tr := &captureTransport{err: ErrQueue}
	c, err := NewContext(tr, &Config{Metrics: m})
	require.NoError(t, err)

	err = c.SubmitCreate(&CreateRequest{Name: "x"}, func(NTStatus, interface{}, interface{}) {
		t.Error("callback fired after queue failure")
	}, nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("CREATE", stageQueue)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.submitted.WithLabelValues("CREATE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}
