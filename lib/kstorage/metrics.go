package kstorage

import (
	"fmt"
	"io"
	"strings"

	"github.com/VictoriaMetrics/metrics"
)

// storeMetrics holds the Prometheus metrics of one store.
// Reads are not counted, the read path stays free of shared writes.
type storeMetrics struct {
	set     *metrics.Set
	writes  *metrics.Counter
	removes *metrics.Counter
	errors  [CodeCapacity + 1]*metrics.Counter
}

func newStoreMetrics(s *Store, labels string) *storeMetrics {
	labels = strings.Trim(labels, "{} ")
	name := func(base string, extra ...string) string {
		all := extra
		if labels != "" {
			all = append([]string{labels}, extra...)
		}
		if len(all) == 0 {
			return base
		}
		return base + "{" + strings.Join(all, ",") + "}"
	}

	set := metrics.NewSet()
	m := &storeMetrics{
		set:     set,
		writes:  set.NewCounter(name("kstorage_writes_total")),
		removes: set.NewCounter(name("kstorage_removes_total")),
	}
	for _, code := range allCodes {
		m.errors[code] = set.NewCounter(name("kstorage_errors_total", fmt.Sprintf("code=%q", code.String())))
	}

	for gid := 0; gid < MaxGroups; gid++ {
		gid := gid
		set.NewGauge(name("kstorage_group_entries", fmt.Sprintf("group=\"%d\"", gid)), func() float64 {
			if gid >= int(s.allocated.Load()) {
				return 0
			}
			n, err := s.GroupSize(gid)
			if err != nil {
				return 0
			}
			return float64(n)
		})
	}
	set.NewGauge(name("kstorage_memory_bytes"), func() float64 {
		return float64(s.budget.Used())
	})
	set.NewGauge(name("kstorage_retired_total"), func() float64 {
		return float64(s.reclaimer.Stats().Retired)
	})
	set.NewGauge(name("kstorage_reclaimed_total"), func() float64 {
		return float64(s.reclaimer.Stats().Freed)
	})
	set.NewGauge(name("kstorage_reclaim_pending"), func() float64 {
		return float64(s.reclaimer.Pending())
	})
	return m
}

func (m *storeMetrics) countError(code ErrCode) {
	if int(code) < len(m.errors) && m.errors[code] != nil {
		m.errors[code].Inc()
	}
}

// WritePrometheus writes the metrics of the store in Prometheus text format
func (s *Store) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
