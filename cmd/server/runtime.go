package main

import (
	"log"

	"github.com/algernon-A/TransferController-sub001/internal/observerproto"
	"github.com/algernon-A/TransferController-sub001/internal/persistence/indexdb"
	persistlog "github.com/algernon-A/TransferController-sub001/internal/persistence/log"
	"github.com/algernon-A/TransferController-sub001/internal/persistence/r2s3"
	"github.com/algernon-A/TransferController-sub001/internal/sim/controller"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
	"github.com/algernon-A/TransferController-sub001/internal/transport/observer"
)

// sinks fans controller events out to the log files, the index, the
// observer hub and the mirror. Any of them may be nil.
type sinks struct {
	c        *controller.Controller
	outcomes *persistlog.OutcomeLogger
	failures *persistlog.FailureLogger
	idx      *indexdb.SQLiteIndex
	obs      *observer.Server
	mirror   *r2s3.Mirror
	log      *log.Logger
}

// attach registers every sink on c. Call before c.Run.
func (s *sinks) attach(c *controller.Controller) {
	s.c = c
	if s.outcomes != nil {
		c.AddSink(s.outcomes)
	}
	if s.idx != nil {
		c.AddSink(controller.OutcomeSinkFunc(func(e matchlog.Entry) error {
			return s.idx.WriteOutcome(c.Session(), e)
		}))
	}
	if s.obs != nil {
		c.AddSink(s.obs)
	}
	c.SetOnPathFailure(s.pathFailure)
}

// sessionChanged is called after a load replaced the session id.
func (s *sinks) sessionChanged(id string) {
	if s.outcomes != nil {
		s.outcomes.SetSession(id)
	}
	if s.idx != nil {
		s.idx.RecordSession(id)
	}
}

func (s *sinks) pathFailure(f controller.PathFailure) {
	if s.failures != nil {
		if err := s.failures.WriteFailure(persistlog.FailureRecord{
			Session:  f.Session,
			Tick:     f.Tick,
			Vehicle:  f.Vehicle,
			Source:   f.Source,
			Target:   f.Target,
			Category: f.Category,
		}); err != nil {
			s.printf("failure log: %v", err)
		}
	}
	if s.idx != nil {
		s.idx.RecordFailure(indexdb.FailureRow{
			Session:  f.Session,
			Tick:     f.Tick,
			Vehicle:  f.Vehicle,
			Source:   f.Source,
			Target:   f.Target,
			Category: f.Category,
		})
	}
}

func (s *sinks) saved(path string, info controller.SaveInfo) {
	if s.idx != nil {
		s.idx.RecordSave(indexdb.SaveRow{
			Session:      info.Session,
			Tick:         info.Tick,
			Path:         path,
			Version:      info.Version,
			Restrictions: info.Restrictions,
			Warehouses:   info.Warehouses,
			Vehicles:     info.Vehicles,
		})
	}
	s.mirror.Enqueue(path)
}

// closeLogs flushes the log files; their OnClose hooks queue them for the
// mirror, so call it before closing the mirror.
func (s *sinks) closeLogs() {
	if s.outcomes != nil {
		if err := s.outcomes.Close(); err != nil {
			s.printf("close outcome log: %v", err)
		}
	}
	if s.failures != nil {
		if err := s.failures.Close(); err != nil {
			s.printf("close failure log: %v", err)
		}
	}
}

func (s *sinks) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// bootstrapFor reads only the published metrics snapshot and the startup
// tuning, so it is safe from HTTP goroutines.
func bootstrapFor(c *controller.Controller) func() observerproto.BootstrapResponse {
	tune := c.Tuning()
	statuses := make([]string, 0, len(matchlog.Statuses()))
	for _, st := range matchlog.Statuses() {
		statuses = append(statuses, st.String())
	}
	categories := make([]string, 0, len(host.Categories()))
	for _, cat := range host.Categories() {
		categories = append(categories, cat.String())
	}
	return func() observerproto.BootstrapResponse {
		m := c.Metrics()
		return observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			SessionID:       m.Session,
			Tick:            m.Tick,
			Enabled:         m.Enabled,
			Params: observerproto.MatchingParams{
				TickRateHz:   tune.TickRateHz,
				MaxPriority:  tune.MaxPriority,
				DistanceOnly: tune.Matching.DistanceOnly,
			},
			Statuses:   statuses,
			Categories: categories,
		}
	}
}
