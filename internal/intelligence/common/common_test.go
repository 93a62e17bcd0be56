package common

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/progres-go/pkg/errors"
)

func TestModelIdentity(t *testing.T) {
	id := ModelIdentity{Name: "progres", Version: "0.2.0"}
	assert.Equal(t, "progres@0.2.0", id.String())

	parsed, err := ParseModelIdentity("progres@0.2.0")
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
	assert.False(t, id.Equal(ModelIdentity{Name: "progres", Version: "0.1.0"}))
	assert.True(t, ModelIdentity{}.IsZero())

	_, err = ParseModelIdentity("  ")
	assert.Error(t, err)
}

func TestParseDevice(t *testing.T) {
	cases := []struct {
		in      string
		want    DeviceConfig
		wantErr bool
	}{
		{"", DeviceConfig{Kind: DeviceCPU}, false},
		{"CPU", DeviceConfig{Kind: DeviceCPU}, false},
		{"cuda", DeviceConfig{Kind: DeviceCUDA}, false},
		{"cuda:2", DeviceConfig{Kind: DeviceCUDA, Index: 2}, false},
		{"mps", DeviceConfig{Kind: DeviceMPS}, false},
		{"cuda:x", DeviceConfig{}, true},
		{"cpu:1", DeviceConfig{}, true},
		{"tpu", DeviceConfig{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDevice(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSelectDevice_AcceleratorUnavailable(t *testing.T) {
	for _, spec := range []string{"cuda", "cuda:0", "mps"} {
		_, err := SelectDevice(spec, 1, 1)
		require.Error(t, err, spec)
		assert.True(t, errors.IsCode(err, errors.ErrCodeDeviceUnavailable), spec)
	}
}

func TestSelectDevice_CPU(t *testing.T) {
	d, err := SelectDevice("cpu", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, d.Kind)
	assert.GreaterOrEqual(t, d.Workers, 1)
	assert.Equal(t, 1, d.BatchSize)
	assert.Equal(t, "cpu", d.String())
	assert.Equal(t, "cuda:3", DeviceConfig{Kind: DeviceCUDA, Index: 3}.String())
}

func TestModelRegistry(t *testing.T) {
	r := NewModelRegistry("/data")

	path, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "trained_models", "v_0_2_0", "trained_model.safetensors"), path)

	require.NoError(t, r.Register("mine", "custom/m.safetensors"))
	require.NoError(t, r.Register("abs", "/abs/m.safetensors"))
	path, err = r.Resolve("mine")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "custom", "m.safetensors"), path)
	path, _ = r.Resolve("abs")
	assert.Equal(t, "/abs/m.safetensors", path)

	_, err = r.Resolve("progres-v9")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownModel))
	assert.Contains(t, err.Error(), DefaultModelName)

	assert.Error(t, r.Register("", "x"))
	assert.Equal(t, []string{"abs", "mine", DefaultModelName}, r.Names())
}

func TestProcessBatch_OrderAndLimit(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	var active, peak int32
	out, err := ProcessBatch(context.Background(), items, 4, func(_ context.Context, i int, v int) (int, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&active, -1)
		return v * v, nil
	})
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
}

func TestProcessBatch_Error(t *testing.T) {
	boom := stderrors.New("boom")
	_, err := ProcessBatch(context.Background(), []int{1, 2, 3}, 2, func(_ context.Context, _ int, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestProcessBatch_Empty(t *testing.T) {
	out, err := ProcessBatch(context.Background(), []string{}, 0, func(context.Context, int, string) (int, error) {
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPrometheusInferenceMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusInferenceMetrics(reg)
	require.NoError(t, err)

	id := ModelIdentity{Name: "progres", Version: "0.2.0"}
	ctx := context.Background()
	m.RecordInference(ctx, &InferenceMetricParams{Model: id, Residues: 120, DurationMs: 12, Success: true})
	m.RecordInference(ctx, &InferenceMetricParams{Model: id, Success: false})
	m.RecordInference(ctx, nil)
	m.RecordBatchProcessing(ctx, &BatchMetricParams{Model: id, Items: 10, Failed: 1, Workers: 2})
	m.RecordModelLoad(ctx, id, 30, true)

	pm := m.(*prometheusInferenceMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.inferenceTotal.WithLabelValues("progres@0.2.0", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.inferenceTotal.WithLabelValues("progres@0.2.0", "failure")))
	assert.Equal(t, 9.0, testutil.ToFloat64(pm.batchItems.WithLabelValues("progres@0.2.0", "success")))

	_, err = NewPrometheusInferenceMetrics(reg)
	assert.Error(t, err, "duplicate registration must fail")
}

func TestNoopInferenceMetrics(t *testing.T) {
	m := NewNoopInferenceMetrics()
	assert.NotPanics(t, func() {
		m.RecordInference(context.Background(), &InferenceMetricParams{})
		m.RecordBatchProcessing(context.Background(), nil)
		m.RecordModelLoad(context.Background(), ModelIdentity{}, 0, false)
	})
}
