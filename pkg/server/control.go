package server

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/stats"
)

const flowInterval = time.Second

// control runs the housekeeping ticks: flow swapping and memory accounting every
// second, metric expiry and the aggregate stats log line.
func (s *Server) control(ctx context.Context) {
	clck := clock.FromContext(ctx)

	flowTicker := clck.NewTicker(flowInterval)
	defer flowTicker.Stop()

	var expireC, statsC <-chan time.Time
	if s.config.Expire > 0 {
		t := clck.NewTicker(s.config.Expire)
		defer t.Stop()
		expireC = t.C
	}
	if s.config.StatsInterval > 0 {
		t := clck.NewTicker(s.config.StatsInterval)
		defer t.Stop()
		statsC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-flowTicker.C:
			s.tick()
		case <-expireC:
			s.expire()
		case <-statsC:
			s.logStats()
		}
	}
}

func (s *Server) tick() {
	for _, sm := range s.samplers {
		sm.SwapFlow()
	}
	s.stats.SetMemory(s.store.MemoryBytes())
	s.stats.SetRejectedKeys(s.store.RejectedEstimate())
}

// expire moves every metric one activity state down. The internal metric is
// kept active by its own sampling.
func (s *Server) expire() {
	s.store.Foreach(func(m *metric.Metric) {
		if m.Kind != gobrubeck.INTERNAL {
			m.Expire()
		}
	})
}

func (s *Server) logStats() {
	var flow uint64
	for _, sm := range s.samplers {
		flow += sm.CurrentFlow()
	}
	stats.Log(s.logger, s.stats.Last(), logrus.Fields{
		"flow":     flow,
		"at_limit": s.store.AtCapacity(),
	})
}

// DumpKeys writes one "key|type" line per known metric to the configured dump file
// and returns the number of lines written.
func (s *Server) DumpKeys() (int, error) {
	return s.dumpKeysTo(s.config.Dumpfile)
}

func (s *Server) dumpKeysTo(path string) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	s.store.Foreach(func(m *metric.Metric) {
		if _, werr := fmt.Fprintf(w, "%s|%s\n", m.Key, dumpType(m.Kind)); werr == nil {
			n++
		}
	})
	return n, w.Flush()
}

func dumpType(k gobrubeck.Kind) string {
	if k == gobrubeck.INTERNAL {
		return k.String()
	}
	return k.Symbol()
}
