package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotKinds(t *testing.T) {
	m := newManager()
	m.RecordDuration("session", "turn", 100*time.Millisecond)
	m.RecordDuration("session", "turn", 300*time.Millisecond)
	m.RecordHit("resolver", "input_box")
	m.RecordHit("resolver", "input_box")
	m.RecordMiss("resolver", "input_box")
	m.IncrementCounter("session", "restarts")
	m.SetGauge("session", "queue_depth", 3)
	m.SetGauge("session", "queue_depth", 1)
	m.RecordOutcome("completion", "verdict", "stable")
	m.RecordFailure("session", "turns", "timeout")
	m.RecordSuccess("session", "turns")

	snap := m.GetSnapshot()

	timing := snap["session/turn"].Data.(TimingSnapshot)
	assert.Equal(t, int64(2), timing.Count)
	assert.InDelta(t, 200, timing.AvgMs, 0.001)
	assert.InDelta(t, 100, timing.MinMs, 0.001)
	assert.InDelta(t, 300, timing.MaxMs, 0.001)

	hm := snap["resolver/input_box"].Data.(HitMissSnapshot)
	assert.Equal(t, int64(2), hm.Hits)
	assert.InDelta(t, 66.67, hm.HitRate, 0.01)

	assert.Equal(t, int64(1), snap["session/restarts"].Data.(CounterSnapshot).Value)

	g := snap["session/queue_depth"].Data.(GaugeSnapshot)
	assert.Equal(t, GaugeSnapshot{Value: 1, Min: 1, Max: 3}, g)

	o := snap["completion/verdict"].Data.(OutcomeSnapshot)
	assert.Equal(t, int64(1), o.Outcomes["stable"])

	sf := snap["session/turns"].Data.(SuccessFailSnapshot)
	assert.Equal(t, int64(1), sf.FailureReasons["timeout"])
	assert.InDelta(t, 50, sf.SuccessRate, 0.001)
}

func TestConcurrentRecording(t *testing.T) {
	m := newManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.IncrementCounter("c", "n")
			}
		}()
	}
	wg.Wait()
	require.Contains(t, m.GetSnapshot(), "c/n")
	assert.Equal(t, int64(1000), m.GetSnapshot()["c/n"].Data.(CounterSnapshot).Value)
}

func TestReset(t *testing.T) {
	m := newManager()
	m.IncrementCounter("a", "b")
	m.Reset()
	assert.Empty(t, m.GetSnapshot())
}

func TestBuildPath(t *testing.T) {
	assert.Equal(t, "topic", buildPath("topic", ""))
	assert.Equal(t, "topic/fn", buildPath("topic", "fn"))
}
