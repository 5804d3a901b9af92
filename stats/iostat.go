package stats

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DiskSample is one snapshot of local-disk activity, used to judge whether
// the split cache's disk is keeping up with indexing churn.
type DiskSample struct {
	Name       string
	ReadBytes  int64
	WriteBytes int64
	At         time.Time
}

// DiskSampler periodically reads per-device I/O counters and queues one
// DiskSample per device on Samples(); a sample is dropped when the channel
// is full. Sampling failures are logged and skipped; not every platform
// exposes per-drive counters.
type DiskSampler struct {
	interval time.Duration
	samples  chan DiskSample
}

func NewDiskSampler(interval time.Duration) *DiskSampler {
	return &DiskSampler{interval: interval, samples: make(chan DiskSample, 64)}
}

// Samples is drained by whoever surfaces cache health (tests, an exporter).
func (d *DiskSampler) Samples() <-chan DiskSample { return d.samples }

// Run samples until ctx is cancelled.
func (d *DiskSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sampleOnce()
		}
	}
}

func (d *DiskSampler) sampleOnce() {
	drives, err := readDriveStats()
	if err != nil {
		glog.V(4).Infof("iostat read failed: %v", err)
		return
	}
	now := time.Now()
	for _, s := range drives {
		s.At = now
		select {
		case d.samples <- s:
		default: // nobody draining; drop
		}
	}
}
