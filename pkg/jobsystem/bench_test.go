package jobsystem

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

func newBenchScheduler(b *testing.B, workers int) *Scheduler {
	b.Helper()
	s := New(Options{Logger: quietLogger()})
	require.NoError(b, s.Initialize(workers))
	b.Cleanup(s.Uninitialize)
	return s
}

// 模擬高併發任務：每輪 1000 個任務共用一個 handle
func BenchmarkThroughput(b *testing.B) {
	s := newBenchScheduler(b, 8)
	var n atomic.Int64

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var h types.JobHandle
		for j := 0; j < 1000; j++ {
			require.NoError(b, s.Run(countJob(&n), nil, &h))
		}
		s.Wait(context.Background(), h)
	}
	b.StopTimer()
}

// 每個父任務在 fiber 內等待子任務，量測 park/resume 成本
func BenchmarkNestedWait(b *testing.B) {
	s := newBenchScheduler(b, 4)
	var n atomic.Int64

	parent := func(ctx context.Context, _ any) {
		var h types.JobHandle
		for j := 0; j < 8; j++ {
			_ = s.Run(countJob(&n), nil, &h)
		}
		s.Wait(ctx, h)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var h types.JobHandle
		for j := 0; j < 64; j++ {
			require.NoError(b, s.Run(parent, nil, &h))
		}
		s.Wait(context.Background(), h)
	}
	b.StopTimer()
}
