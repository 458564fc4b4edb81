package workers

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingExpirer struct {
	calls atomic.Int64
	age   atomic.Int64
}

func (c *countingExpirer) ExpireStaleOrders(_ context.Context, olderThan time.Duration) (int64, error) {
	c.calls.Add(1)
	c.age.Store(int64(olderThan))
	return 2, nil
}

func TestOrderExpirerRunsAndStops(t *testing.T) {
	svc := &countingExpirer{}
	expirer := NewOrderExpirer(testLogger(), svc, 30*time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		expirer.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return svc.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expirer did not stop on context cancel")
	}

	require.Equal(t, int64(30*time.Minute), svc.age.Load())
}

type countingSettler struct {
	calls atomic.Int64
	hold  atomic.Int64
}

func (c *countingSettler) SettleEligibleOrders(_ context.Context, holdPeriod time.Duration) (int, error) {
	c.calls.Add(1)
	c.hold.Store(int64(holdPeriod))
	return 1, nil
}

func TestSettlerPassesConfiguredHold(t *testing.T) {
	svc := &countingSettler{}
	settler := NewSettler(testLogger(), svc, 24*time.Hour, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		settler.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return svc.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	require.Equal(t, int64(24*time.Hour), svc.hold.Load())
}

type recordingReconService struct {
	reports atomic.Int64
}

func (r *recordingReconService) Reconcile(_ context.Context, start, end time.Time) (*entities.ReconciliationReport, error) {
	r.reports.Add(1)
	return &entities.ReconciliationReport{
		Start:     start,
		End:       end,
		Anomalies: []entities.Anomaly{{Type: entities.AnomalyWallet, Reference: "wallet:u1"}},
	}, nil
}

type recordingBroadcaster struct {
	broadcasts atomic.Int64
	anomalies  atomic.Int64
}

func (b *recordingBroadcaster) Broadcast(report *entities.ReconciliationReport) {
	b.broadcasts.Add(1)
	b.anomalies.Add(int64(len(report.Anomalies)))
}

func TestReconcilerBroadcastsFindings(t *testing.T) {
	svc := &recordingReconService{}
	sink := &recordingBroadcaster{}
	reconciler := NewReconciler(testLogger(), svc, sink, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sink.broadcasts.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	require.Equal(t, sink.broadcasts.Load(), svc.reports.Load())
	require.GreaterOrEqual(t, sink.anomalies.Load(), sink.broadcasts.Load())
}
