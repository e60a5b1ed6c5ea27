package logger

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Pipeline counters, incremented by the feed, collector and archiver layers
// and summarized by the periodic report.
var (
	feedEventsRead    int64
	collectorFetches  int64
	archiveBatches    int64
	archiveRecords    int64
	feedWarnCount     int64
	feedErrorCount    int64
	collectorWarns    int64
	collectorErrors   int64
	archiverWarns     int64
	archiverErrors    int64
	otherWarnCount    int64
	otherErrorCount   int64
	reportPID         int32
	reportProcess     *process.Process
)

// IncrementFeedEvents adds n to the count of normalized events delivered by
// the live feeds since the last report.
func IncrementFeedEvents(n int64) {
	atomic.AddInt64(&feedEventsRead, n)
}

// IncrementCollectorFetches adds one completed REST collection cycle.
func IncrementCollectorFetches() {
	atomic.AddInt64(&collectorFetches, 1)
}

// IncrementArchiveBatches records one archived batch of n records.
func IncrementArchiveBatches(n int64) {
	atomic.AddInt64(&archiveBatches, 1)
	atomic.AddInt64(&archiveRecords, n)
}

func recordWarn(component string) {
	switch {
	case strings.Contains(component, "feed"):
		atomic.AddInt64(&feedWarnCount, 1)
	case strings.Contains(component, "collector"):
		atomic.AddInt64(&collectorWarns, 1)
	case strings.Contains(component, "archiver"):
		atomic.AddInt64(&archiverWarns, 1)
	default:
		atomic.AddInt64(&otherWarnCount, 1)
	}
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "feed"):
		atomic.AddInt64(&feedErrorCount, 1)
	case strings.Contains(component, "collector"):
		atomic.AddInt64(&collectorErrors, 1)
	case strings.Contains(component, "archiver"):
		atomic.AddInt64(&archiverErrors, 1)
	default:
		atomic.AddInt64(&otherErrorCount, 1)
	}
}

// StartReport periodically logs a summary of pipeline throughput and process
// resource usage, and publishes the counters as metrics. Counters reset after
// every report. The loop stops when ctx is cancelled.
func StartReport(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitReport()
			}
		}
	}()
}

func emitReport() {
	log := GetLogger()
	entry := log.WithComponent("report")

	events := atomic.SwapInt64(&feedEventsRead, 0)
	fetches := atomic.SwapInt64(&collectorFetches, 0)
	batches := atomic.SwapInt64(&archiveBatches, 0)
	records := atomic.SwapInt64(&archiveRecords, 0)

	fields := Fields{
		"feed_events":       events,
		"collector_fetches": fetches,
		"archive_batches":   batches,
		"archive_records":   records,
		"feed_warns":        atomic.SwapInt64(&feedWarnCount, 0),
		"feed_errors":       atomic.SwapInt64(&feedErrorCount, 0),
		"collector_warns":   atomic.SwapInt64(&collectorWarns, 0),
		"collector_errors":  atomic.SwapInt64(&collectorErrors, 0),
		"archiver_warns":    atomic.SwapInt64(&archiverWarns, 0),
		"archiver_errors":   atomic.SwapInt64(&archiverErrors, 0),
		"other_warns":       atomic.SwapInt64(&otherWarnCount, 0),
		"other_errors":      atomic.SwapInt64(&otherErrorCount, 0),
	}

	appendRuntimeStats(fields)

	entry.WithFields(fields).Info("pipeline report")

	log.LogMetric("report", "FeedEventsDelivered", events, "counter", Fields{"window": "report"})
	log.LogMetric("report", "ArchiveRecordsWritten", records, "counter", Fields{"window": "report"})
}

func appendRuntimeStats(fields Fields) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fields["goroutines"] = runtime.NumGoroutine()
	fields["heap_alloc_mb"] = ms.HeapAlloc / 1024 / 1024

	if vm, err := mem.VirtualMemory(); err == nil {
		fields["sys_mem_used_pct"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		fields["sys_cpu_pct"] = percents[0]
	}
	if reportProcess == nil {
		reportPID = int32(os.Getpid())
		if p, err := process.NewProcess(reportPID); err == nil {
			reportProcess = p
		}
	}
	if reportProcess != nil {
		if pct, err := reportProcess.CPUPercent(); err == nil {
			fields["proc_cpu_pct"] = pct
		}
		if info, err := reportProcess.MemoryInfo(); err == nil && info != nil {
			fields["proc_rss_mb"] = info.RSS / 1024 / 1024
		}
	}
}
