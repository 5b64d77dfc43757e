package scanning

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/metrics"
	"github.com/anstrom/netprobe/internal/metrics/mocks"
)

func TestScanBatch_RecordsMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecorder(ctrl)

	rec.EXPECT().ProbeStarted("fake").Times(3)
	rec.EXPECT().ProbeFinished("fake").Times(3)
	rec.EXPECT().RecordProbe("fake", "reply-received", gomock.Any()).Times(2)
	rec.EXPECT().RecordProbe("fake", "timed-out", gomock.Any()).Times(1)
	rec.EXPECT().RecordBatch("fake", metrics.StatusSuccess, 3, gomock.Any())

	opts := testOptions().withDefaults()
	opts.Metrics = rec

	batch := Batch{
		NewTarget("a", 1, ProtocolTCP),
		NewTarget("b", 2, ProtocolTCP),
		NewTarget("c", 3, ProtocolTCP),
	}
	err := scanBatch(context.Background(), "fake", opts, batch, func(_ context.Context, tg *Target) (Reason, []byte) {
		if tg.Host == "b" {
			return ReasonTimedOut, nil
		}
		return ReasonReplyReceived, []byte(tg.Host)
	})
	require.NoError(t, err)

	assert.Equal(t, "a", string(batch[0].Banner))
	assert.Equal(t, ReasonTimedOut, batch[1].Reason)
	assert.Equal(t, "c", string(batch[2].Banner))
}

func TestScanBatch_EachRecordProbedOnce(t *testing.T) {
	opts := testOptions().withDefaults()
	opts.Workers = 16

	var batch Batch
	for i := 0; i < 300; i++ {
		batch = append(batch, NewTarget("h", uint16(i), ProtocolUDP))
	}

	calls := make([]int32, len(batch))
	err := scanBatch(context.Background(), "fake", opts, batch, func(_ context.Context, tg *Target) (Reason, []byte) {
		atomic.AddInt32(&calls[tg.Port], 1)
		return ReasonReplyReceived, nil
	})
	require.NoError(t, err)

	for i, c := range calls {
		assert.Equal(t, int32(1), c, "record %d", i)
	}
}

func TestScanBatch_WallClockScalesWithWorkers(t *testing.T) {
	opts := testOptions().withDefaults()
	opts.Workers = 10

	var batch Batch
	for i := 0; i < 20; i++ {
		batch = append(batch, NewTarget("h", uint16(i), ProtocolTCP))
	}

	start := time.Now()
	require.NoError(t, scanBatch(context.Background(), "fake", opts, batch, func(context.Context, *Target) (Reason, []byte) {
		time.Sleep(50 * time.Millisecond)
		return ReasonTimedOut, nil
	}))

	// two rounds of ten, not twenty sequential probes
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestScanBatch_CancelLeavesUnprobedRecords(t *testing.T) {
	opts := testOptions().withDefaults()
	opts.Workers = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batch := Batch{
		NewTarget("a", 1, ProtocolTCP),
		NewTarget("b", 2, ProtocolTCP),
		NewTarget("c", 3, ProtocolTCP),
	}
	err := scanBatch(ctx, "fake", opts, batch, func(_ context.Context, tg *Target) (Reason, []byte) {
		if tg.Host == "a" {
			cancel()
			return ReasonReplyReceived, nil
		}
		return ReasonTimedOut, nil
	})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	assert.Equal(t, ReasonReplyReceived, batch[0].Reason, "a reply seen before cancel is kept")
	assert.Equal(t, ReasonUnknown, batch[2].Reason)
}
