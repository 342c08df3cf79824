package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monify-labs/swapguard/internal/config"
	"github.com/monify-labs/swapguard/internal/controller"
	"github.com/monify-labs/swapguard/internal/privileged"
	"github.com/monify-labs/swapguard/internal/privileged/privilegedtest"
	"github.com/monify-labs/swapguard/internal/swapfile"
	"github.com/monify-labs/swapguard/pkg/models"
)

// fakeSnapshots hands out queued samples, then errEnd once the queue is empty
type fakeSnapshots struct {
	mu      sync.Mutex
	samples []*models.UtilizationSample
	errEnd  error
}

func (f *fakeSnapshots) Snapshot(ctx context.Context) (*models.UtilizationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.samples) == 0 {
		return nil, f.errEnd
	}
	s := f.samples[0]
	f.samples = f.samples[1:]
	return s, nil
}

func sample(ram, swap float64) *models.UtilizationSample {
	return &models.UtilizationSample{
		RAMUsedPercent:  ram,
		RAMTotalMB:      8192,
		RAMUsedMB:       8192 * ram / 100,
		SwapUsedPercent: swap,
		SwapTotalMB:     4096,
		SwapUsedMB:      4096 * swap / 100,
	}
}

type harness struct {
	cfg     *config.Config
	fs      afero.Fs
	exec    *privilegedtest.Recorder
	manager *swapfile.Manager
	agent   *Agent
}

func newHarness(t *testing.T, snapshots SnapshotProvider) *harness {
	t.Helper()

	log := discardLogger()

	cfg := config.Default()
	cfg.WarningThreshold = 70
	cfg.OptimizeThreshold = 85
	cfg.ExpandThreshold = 95
	cfg.MaxAdditionalSwaps = 3

	h := &harness{cfg: cfg, fs: afero.NewMemMapFs()}
	h.exec = privilegedtest.NewRecorder(h.fs)
	registry := swapfile.NewRegistry(h.fs, cfg.SwapFileBasePath, cfg.MaxAdditionalSwaps)
	h.manager = swapfile.NewManager(registry, h.exec, func(ctx context.Context, path string) (uint64, error) {
		return 1 << 20, nil
	}, cfg.SwapFileSizeMB, cfg.DiskSafetyMarginMB, log)

	h.agent = NewAgent(cfg, snapshots, h.manager, controller.NewRemediator(h.exec, log), log)
	h.agent.interval = time.Millisecond
	return h
}

func (h *harness) run(samples ...*models.UtilizationSample) {
	for _, s := range samples {
		h.agent.process(context.Background(), s)
	}
}

func swapSeries(swap float64, n int) []*models.UtilizationSample {
	out := make([]*models.UtilizationSample, n)
	for i := range out {
		out[i] = sample(40, swap)
	}
	return out
}

func TestProcess_ExpandAfterThreeCriticalSamples(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})

	h.run(sample(40, 96), sample(40, 96))
	assert.Zero(t, h.exec.Count(privileged.AllocateZero))

	h.run(sample(40, 96))
	assert.Equal(t, 1, h.exec.Count(privileged.AllocateZero))
	assert.Equal(t, 1, h.manager.Registry().Count())
	assert.Equal(t, 0, h.agent.Hysteresis().HighUsageStreak)
	assert.Equal(t, uint64(1), h.agent.GetStatus().Expansions)
}

func TestProcess_OptimizeAfterTwoHighSamples(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})

	h.run(sample(40, 90), sample(40, 90))

	assert.Equal(t, 1, h.exec.Count(privileged.SyncFilesystems))
	assert.Zero(t, h.exec.Count(privileged.AllocateZero))
	assert.Equal(t, uint64(1), h.agent.GetStatus().Optimizes)
}

func TestProcess_ShrinkAfterFifteenNormalSamples(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})
	require.NoError(t, afero.WriteFile(h.fs, h.manager.Registry().Path(1), []byte("swap"), 0600))
	h.exec.SetActive(h.manager.Registry().Path(1))

	h.run(swapSeries(60, 14)...)
	assert.Zero(t, h.exec.Count(privileged.ListActiveSwaps))

	h.run(sample(40, 60))
	assert.Equal(t, 1, h.exec.Count(privileged.DeactivateSwap))
	assert.Equal(t, 1, h.exec.Count(privileged.DeleteFile))
	assert.Equal(t, 0, h.manager.Registry().Count())
	assert.Equal(t, 0, h.agent.Hysteresis().LowUsageStreak)
	assert.Equal(t, uint64(1), h.agent.GetStatus().Shrinks)
}

func TestProcess_ShrinkWithoutSlotsIsQuiet(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})

	h.run(swapSeries(60, 15)...)

	assert.Empty(t, h.exec.Calls())
	assert.Equal(t, 0, h.agent.Hysteresis().LowUsageStreak)
	assert.Zero(t, h.agent.GetStatus().Shrinks)
}

func TestProcess_EmergencyEveryTick(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})

	h.run(sample(92, 10), sample(92, 80), sample(95, 99))

	var swappiness100 int
	for _, op := range h.exec.Calls() {
		if op == privileged.KernelParam("vm.swappiness", "100") {
			swappiness100++
		}
	}
	assert.Equal(t, 3, swappiness100)
	assert.Equal(t, uint64(3), h.agent.GetStatus().Emergencies)
}

func TestProcess_EmergencyDoesNotTouchStreaks(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})

	h.run(sample(92, 96), sample(92, 96))
	assert.Equal(t, 2, h.agent.Hysteresis().HighUsageStreak)
}

func TestProcess_NoEmergencyBelowThreshold(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})

	h.run(sample(89.9, 10))
	assert.Empty(t, h.exec.Calls())
}

func TestProcess_ActionFailureKeepsRunning(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})
	h.exec.FailOn(privileged.ActivateSwap)

	h.run(swapSeries(96, 3)...)
	assert.Equal(t, 0, h.manager.Registry().Count())
	assert.Equal(t, uint64(1), h.agent.GetStatus().ErrorCount)

	// the next full streak retries
	h.run(swapSeries(96, 3)...)
	assert.Equal(t, 2, h.exec.Count(privileged.AllocateZero))
}

func TestProcess_RetainedSlotCountsAsError(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})
	require.NoError(t, afero.WriteFile(h.fs, h.manager.Registry().Path(1), []byte("swap"), 0600))
	h.exec.SetActive(h.manager.Registry().Path(1))
	h.exec.FailOn(privileged.DeactivateSwap)

	h.run(swapSeries(10, 15)...)

	assert.Equal(t, 1, h.manager.Registry().Count())
	assert.Equal(t, uint64(1), h.agent.GetStatus().ErrorCount)
	assert.Zero(t, h.agent.GetStatus().Shrinks)
}

func TestStart_ExitsOnSnapshotError(t *testing.T) {
	readErr := errors.New("no /proc/meminfo")
	snaps := &fakeSnapshots{samples: swapSeries(96, 3), errEnd: readErr}
	h := newHarness(t, snaps)

	err := h.agent.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshot)
	assert.ErrorIs(t, err, readErr)

	// all three samples were processed before the failure
	assert.Equal(t, 1, h.exec.Count(privileged.AllocateZero))
	status := h.agent.GetStatus()
	assert.Equal(t, uint64(3), status.Ticks)
	assert.Equal(t, "stopped", status.Status)
}

// endless returns the same sample forever
type endless struct{ s *models.UtilizationSample }

func (e endless) Snapshot(ctx context.Context) (*models.UtilizationSample, error) {
	return e.s, nil
}

func TestStart_StopsOnCancel(t *testing.T) {
	h := newHarness(t, endless{sample(40, 50)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.agent.Start(ctx) }()

	require.Eventually(t, func() bool {
		return h.agent.GetStatus().Ticks >= 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, "running", h.agent.GetStatus().Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	h := newHarness(t, endless{sample(40, 50)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.agent.Start(ctx)

	require.Eventually(t, func() bool {
		return h.agent.GetStatus().Status == "running"
	}, time.Second, time.Millisecond)

	assert.Error(t, h.agent.Start(ctx))
}

func TestCheckSwapConfigured(t *testing.T) {
	_, err := CheckSwapConfigured(context.Background(), endless{sample(40, 0)})
	assert.NoError(t, err)

	noSwap := &models.UtilizationSample{RAMTotalMB: 8192}
	_, err = CheckSwapConfigured(context.Background(), endless{noSwap})
	assert.ErrorIs(t, err, ErrSwapNotConfigured)

	_, err = CheckSwapConfigured(context.Background(), &fakeSnapshots{errEnd: errors.New("boom")})
	assert.ErrorIs(t, err, ErrSnapshot)
}

func TestCollectReport(t *testing.T) {
	h := newHarness(t, endless{sample(40, 50)})
	require.NoError(t, afero.WriteFile(h.fs, h.manager.Registry().Path(2), []byte("swap"), 0600))
	h.exec.SetActive(h.manager.Registry().Path(2))

	report, err := CollectReport(context.Background(), endless{sample(40, 50)}, h.manager)
	require.NoError(t, err)

	assert.Equal(t, 1, report.InUse)
	assert.Equal(t, 3, report.MaxSlots)
	assert.True(t, report.Slots[1].Active)
	assert.InDelta(t, 50.0, report.Sample.SwapUsedPercent, 0.001)
}

// timedSnapshots records when each snapshot was taken and fails after limit samples
type timedSnapshots struct {
	mu    sync.Mutex
	times []time.Time
	limit int
	s     *models.UtilizationSample
}

var errDone = errors.New("done")

func (t *timedSnapshots) Snapshot(ctx context.Context) (*models.UtilizationSample, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.times = append(t.times, time.Now())
	if len(t.times) > t.limit {
		return nil, errDone
	}
	return t.s, nil
}

// slowRemediator blocks in every action, and runs onRelieve first if set
type slowRemediator struct {
	delay     time.Duration
	onRelieve func()
}

func (r *slowRemediator) Optimize(ctx context.Context) error {
	time.Sleep(r.delay)
	return nil
}

func (r *slowRemediator) RelievePressure(ctx context.Context, ramPercent float64) error {
	if r.onRelieve != nil {
		r.onRelieve()
	}
	time.Sleep(r.delay)
	return nil
}

func TestStart_SleepsFullIntervalAfterSlowAction(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})
	snaps := &timedSnapshots{limit: 3, s: sample(95, 10)}

	const (
		interval = 20 * time.Millisecond
		delay    = 60 * time.Millisecond
	)
	a := NewAgent(h.cfg, snaps, h.manager, &slowRemediator{delay: delay}, discardLogger())
	a.interval = interval

	err := a.Start(context.Background())
	require.ErrorIs(t, err, errDone)

	require.Len(t, snaps.times, 4)
	for i := 1; i < len(snaps.times); i++ {
		gap := snaps.times[i].Sub(snaps.times[i-1])
		assert.GreaterOrEqual(t, gap, delay+interval, "gap before snapshot %d", i+1)
	}
}

func TestStart_NoTickAfterCancelDuringAction(t *testing.T) {
	h := newHarness(t, &fakeSnapshots{})
	snaps := &timedSnapshots{limit: 100, s: sample(95, 10)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cancel while the first action runs for longer than the interval
	a := NewAgent(h.cfg, snaps, h.manager, &slowRemediator{delay: 30 * time.Millisecond, onRelieve: cancel}, discardLogger())
	a.interval = time.Millisecond

	require.NoError(t, a.Start(ctx))
	assert.Len(t, snaps.times, 1)
	assert.Equal(t, uint64(1), a.GetStatus().Ticks)
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
