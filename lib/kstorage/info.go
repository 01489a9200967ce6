package kstorage

import (
	"github.com/ValentinKolb/kStorage/lib/reclaim"
	"github.com/ValentinKolb/kStorage/lib/util"
)

// Info is a point-in-time overview of a store
type Info struct {
	InstanceID      string        `json:"instance_id"`
	Capacity        int           `json:"capacity"`
	AllocatedGroups int           `json:"allocated_groups"`
	GroupSizes      []int         `json:"group_sizes"`
	GroupBalance    util.Stats    `json:"group_balance"`
	MemoryUsed      int64         `json:"memory_used"`
	MemoryPeak      int64         `json:"memory_peak"`
	MemoryLimit     int64         `json:"memory_limit"`
	WrittenEntries  int64         `json:"written_entries"`
	EntrySizeAvg    int           `json:"entry_size_avg"`
	EntrySizeMedian int           `json:"entry_size_median"`
	EntrySizeP90    int           `json:"entry_size_p90"`
	ActiveReaders   int64         `json:"active_readers"`
	Reclaim         reclaim.Stats `json:"reclaim"`
}

// Info collects statistics about the store. Group sizes come from one snapshot per group.
func (s *Store) Info() Info {
	allocated := int(s.allocated.Load())
	sizes := make([]int, allocated)
	values := make([]float64, allocated)
	for gid := 0; gid < allocated; gid++ {
		n, _ := s.GroupSize(gid)
		sizes[gid] = n
		values[gid] = float64(n)
	}

	return Info{
		InstanceID:      s.id.String(),
		Capacity:        MaxGroups,
		AllocatedGroups: allocated,
		GroupSizes:      sizes,
		GroupBalance:    util.NewStats(values),
		MemoryUsed:      s.budget.Used(),
		MemoryPeak:      s.budget.Peak(),
		MemoryLimit:     s.budget.Limit(),
		WrittenEntries:  s.sizes.Count(),
		EntrySizeAvg:    s.sizes.AverageSize(),
		EntrySizeMedian: s.sizes.MedianEstimate(),
		EntrySizeP90:    s.sizes.PercentileEstimate(90),
		ActiveReaders:   s.domain.ActiveReaders(),
		Reclaim:         s.reclaimer.Stats(),
	}
}
