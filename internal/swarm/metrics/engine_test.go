package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	require.NotNil(t, engine)

	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(0), snapshot.TotalRequests)
	assert.Equal(t, PhaseInit, snapshot.CurrentPhase)
	assert.Equal(t, 0.0, snapshot.ErrorRate)
}

func TestEngine_Record(t *testing.T) {
	engine := NewEngine()

	engine.Record(Sample{Method: "GET", Name: "/", Duration: 10 * time.Millisecond, Bytes: 1000})
	engine.Record(Sample{Method: "GET", Name: "/", Duration: 20 * time.Millisecond, Bytes: 2000})
	engine.Record(Sample{Method: "GET", Name: "/slow", Duration: 2 * time.Second, Bytes: 500, Err: errors.New("HTTP 500")})

	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(3), snapshot.TotalRequests)
	assert.Equal(t, int64(2), snapshot.SuccessRequests)
	assert.Equal(t, int64(1), snapshot.FailedRequests)
	assert.Equal(t, int64(3500), snapshot.TotalBytes)
	assert.InDelta(t, 1.0/3.0, snapshot.ErrorRate, 0.0001)
	assert.Equal(t, int64(3), snapshot.Latency.Count)
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()

	for i := 1; i <= 100; i++ {
		engine.Record(Sample{Method: "GET", Name: "/", Duration: time.Duration(i) * time.Millisecond})
	}

	l := engine.GetSnapshot().Latency
	// HDR histograms with 3 significant figures are accurate to 0.1%.
	assert.InDelta(t, float64(time.Millisecond), float64(l.Min), float64(time.Millisecond)/100)
	assert.InDelta(t, float64(100*time.Millisecond), float64(l.Max), float64(time.Millisecond)/10)
	assert.InDelta(t, float64(50*time.Millisecond), float64(l.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(95*time.Millisecond), float64(l.P95), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(l.P99), float64(time.Millisecond))
}

func TestEngine_RequestStatsPerName(t *testing.T) {
	engine := NewEngine()

	for i := 0; i < 4; i++ {
		engine.Record(Sample{Method: "GET", Name: "/", Duration: time.Millisecond, Bytes: 10})
	}
	engine.Record(Sample{Method: "GET", Name: "/slow", Duration: 2 * time.Second})
	engine.Record(Sample{Method: "GET", Name: "/slow", Duration: 2 * time.Second, Err: errors.New("timeout")})
	engine.Record(Sample{Method: "POST", Name: "/", Duration: time.Millisecond})

	stats := engine.GetRequestStats()
	require.Len(t, stats, 3)

	assert.Equal(t, "/", stats[0].Name)
	assert.Equal(t, "GET", stats[0].Method)
	assert.Equal(t, int64(4), stats[0].Requests)
	assert.Equal(t, int64(40), stats[0].Bytes)

	assert.Equal(t, "/", stats[1].Name)
	assert.Equal(t, "POST", stats[1].Method)

	assert.Equal(t, "/slow", stats[2].Name)
	assert.Equal(t, int64(2), stats[2].Requests)
	assert.Equal(t, int64(1), stats[2].Failures)
	assert.Equal(t, 0.5, stats[2].FailureRate())
}

func TestEngine_GroupedErrors(t *testing.T) {
	engine := NewEngine()

	for i := 0; i < 3; i++ {
		engine.Record(Sample{Method: "GET", Name: "/slow", Err: errors.New("HTTP 503: Service Unavailable")})
	}
	engine.Record(Sample{Method: "GET", Name: "/", Err: errors.New("connection refused")})

	errs := engine.GetErrors()
	require.Len(t, errs, 2)
	assert.Equal(t, ErrorStats{Method: "GET", Name: "/slow", Error: "HTTP 503: Service Unavailable", Occurrences: 3}, errs[0])
	assert.Equal(t, int64(1), errs[1].Occurrences)
}

func TestEngine_Phases(t *testing.T) {
	engine := NewEngine()

	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseRampUp)
	engine.Record(Sample{Method: "GET", Name: "/"})
	engine.SetPhase(PhaseSteady)
	engine.SetPhase(PhaseDone)

	assert.Equal(t, PhaseDone, engine.GetPhase())

	history := engine.GetPhaseHistory()
	require.Len(t, history, 3)
	assert.Equal(t, PhaseRampUp, history[0].Phase)
	assert.Equal(t, int64(0), history[0].Requests)
	assert.Equal(t, PhaseSteady, history[1].Phase)
	assert.Equal(t, int64(1), history[1].Requests)
}

func TestEngine_ActiveUsers(t *testing.T) {
	engine := NewEngine()
	engine.SetActiveUsers(7)
	assert.Equal(t, 7, engine.GetActiveUsers())
	assert.Equal(t, 7, engine.GetSnapshot().ActiveUsers)
}

func TestEngine_ClampsOutOfRange(t *testing.T) {
	engine := NewEngineWithConfig(EngineConfig{HistogramMin: 1, HistogramMax: 1000, HistogramSigFigs: 2})

	engine.Record(Sample{Method: "GET", Name: "/", Duration: 0})
	engine.Record(Sample{Method: "GET", Name: "/", Duration: time.Hour})

	l := engine.GetSnapshot().Latency
	assert.Equal(t, int64(2), l.Count)
	assert.LessOrEqual(t, l.Max, 1100*time.Microsecond)
}

func TestEngine_Reset(t *testing.T) {
	engine := NewEngine()
	engine.Record(Sample{Method: "GET", Name: "/", Err: errors.New("x")})
	engine.SetPhase(PhaseSteady)
	engine.SetActiveUsers(3)

	engine.Reset()

	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(0), snapshot.TotalRequests)
	assert.Equal(t, PhaseInit, snapshot.CurrentPhase)
	assert.Equal(t, 0, snapshot.ActiveUsers)
	assert.Empty(t, engine.GetRequestStats())
	assert.Empty(t, engine.GetErrors())
	assert.Empty(t, engine.GetPhaseHistory())
}

func TestEngine_ConcurrentRecord(t *testing.T) {
	engine := NewEngine()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				engine.Record(Sample{Method: "GET", Name: "/", Duration: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10000), engine.GetSnapshot().TotalRequests)
	assert.Equal(t, int64(10000), engine.GetRequestStats()[0].Requests)
}
