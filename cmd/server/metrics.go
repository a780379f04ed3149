package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/indexdb"
	"github.com/algernon-A/TransferController-sub001/internal/persistence/r2s3"
	"github.com/algernon-A/TransferController-sub001/internal/sim/controller"
)

// collector exposes the controller metrics snapshot plus the index and
// mirror queue stats. It reads only published snapshots and atomics, so a
// scrape never touches the controller goroutine.
type collector struct {
	metrics func() controller.Metrics
	index   func() indexdb.QueueStats
	mirror  func() r2s3.Stats

	tick         *prometheus.Desc
	enabled      *prometheus.Desc
	matches      *prometheus.Desc
	lastMatches  *prometheus.Desc
	outcomes     *prometheus.Desc
	logLen       *prometheus.Desc
	logCapacity  *prometheus.Desc
	failingPairs *prometheus.Desc
	faults       *prometheus.Desc
	sinkErrors   *prometheus.Desc
	records      *prometheus.Desc
	vehiclesOut  *prometheus.Desc
	stepMS       *prometheus.Desc

	indexQueueDepth    *prometheus.Desc
	indexQueueCapacity *prometheus.Desc
	indexDropped       *prometheus.Desc

	mirrorQueueDepth *prometheus.Desc
	mirrorEnqueued   *prometheus.Desc
	mirrorDropped    *prometheus.Desc
	mirrorUploads    *prometheus.Desc
	mirrorLastOK     *prometheus.Desc
}

func newCollector(metrics func() controller.Metrics, index func() indexdb.QueueStats, mirror func() r2s3.Stats) *collector {
	session := []string{"session"}
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("transfer_controller_"+name, help, labels, nil)
	}
	return &collector{
		metrics: metrics,
		index:   index,
		mirror:  mirror,

		tick:         d("tick", "Current controller tick.", session...),
		enabled:      d("enabled", "1 when the controller makes decisions this session.", session...),
		matches:      d("matches_total", "Matches made this session.", session...),
		lastMatches:  d("last_matches", "Matches made by the last step.", session...),
		outcomes:     d("outcomes_total", "Recorded pair outcomes by status.", "session", "status"),
		logLen:       d("outcome_log_len", "Entries held by the outcome log.", session...),
		logCapacity:  d("outcome_log_capacity", "Outcome log capacity.", session...),
		failingPairs: d("failing_pairs", "Building pairs currently blocked by pathfinding failures.", session...),
		faults:       d("pair_faults_total", "Pair evaluations that panicked and were skipped.", session...),
		sinkErrors:   d("sink_errors_total", "Outcome sink write errors.", session...),
		records:      d("policy_records", "Stored policy records by kind.", "session", "kind"),
		vehiclesOut:  d("vehicles_out", "Sandbox vehicles currently dispatched.", session...),
		stepMS:       d("step_ms", "Last step duration in milliseconds.", session...),

		indexQueueDepth:    d("index_queue_depth", "Index writer backlog."),
		indexQueueCapacity: d("index_queue_capacity", "Index writer queue capacity."),
		indexDropped:       d("index_dropped_total", "Index rows dropped because the queue was full.", "kind"),

		mirrorQueueDepth: d("mirror_queue_depth", "Object storage mirror backlog."),
		mirrorEnqueued:   d("mirror_enqueued_total", "Files offered to the mirror."),
		mirrorDropped:    d("mirror_dropped_total", "Files dropped because the mirror queue stayed full."),
		mirrorUploads:    d("mirror_uploads_total", "Mirror uploads by result.", "result"),
		mirrorLastOK:     d("mirror_last_success_unix", "Unix time of the last successful upload."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.tick, c.enabled, c.matches, c.lastMatches, c.outcomes, c.logLen, c.logCapacity,
		c.failingPairs, c.faults, c.sinkErrors, c.records, c.vehiclesOut, c.stepMS,
		c.indexQueueDepth, c.indexQueueCapacity, c.indexDropped,
		c.mirrorQueueDepth, c.mirrorEnqueued, c.mirrorDropped, c.mirrorUploads, c.mirrorLastOK,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.metrics()
	s := m.Session
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	enabled := 0.0
	if m.Enabled {
		enabled = 1
	}
	gauge(c.tick, float64(m.Tick), s)
	gauge(c.enabled, enabled, s)
	counter(c.matches, float64(m.MatchesTotal), s)
	gauge(c.lastMatches, float64(m.LastMatches), s)
	for status, n := range m.Outcomes {
		counter(c.outcomes, float64(n), s, status)
	}
	gauge(c.logLen, float64(m.LogLen), s)
	gauge(c.logCapacity, float64(m.LogCapacity), s)
	gauge(c.failingPairs, float64(m.FailingPairs), s)
	counter(c.faults, float64(m.Faults), s)
	counter(c.sinkErrors, float64(m.SinkErrors), s)
	gauge(c.records, float64(m.Restrictions), s, "restriction")
	gauge(c.records, float64(m.Warehouses), s, "warehouse")
	gauge(c.records, float64(m.VehicleLists), s, "vehicle_list")
	gauge(c.vehiclesOut, float64(m.VehiclesOut), s)
	gauge(c.stepMS, m.StepMS, s)

	if c.index != nil {
		q := c.index()
		gauge(c.indexQueueDepth, float64(q.QueueDepth))
		gauge(c.indexQueueCapacity, float64(q.QueueCapacity))
		counter(c.indexDropped, float64(q.DropOutcomeTotal), "outcome")
		counter(c.indexDropped, float64(q.DropFailureTotal), "failure")
		counter(c.indexDropped, float64(q.DropSaveTotal), "save")
	}
	if c.mirror != nil {
		r := c.mirror()
		gauge(c.mirrorQueueDepth, float64(r.Backlog))
		counter(c.mirrorEnqueued, float64(r.Offered))
		counter(c.mirrorDropped, float64(r.Dropped))
		counter(c.mirrorUploads, float64(r.Uploaded), "success")
		counter(c.mirrorUploads, float64(r.Failed), "fail")
		counter(c.mirrorUploads, float64(r.Skipped), "skipped")
		gauge(c.mirrorLastOK, float64(r.LastUpload))
	}
}
