package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jobflow/capture-server-go/internal/audit"
	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/store"
)

// MaintenanceJob periodically sweeps temp files left by interrupted
// commits and surfaces corrupt records in the logs so operators can
// recover them.
type MaintenanceJob struct {
	store    store.SessionStore
	interval time.Duration
	done     chan struct{}
}

func NewMaintenanceJob(st store.SessionStore, interval time.Duration) *MaintenanceJob {
	return &MaintenanceJob{
		store:    st,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *MaintenanceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("maintenance job started")
}

func (j *MaintenanceJob) Stop() {
	close(j.done)
	log.Info().Msg("maintenance job stopped")
}

func (j *MaintenanceJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.maintain()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.maintain()
		}
	}
}

func (j *MaintenanceJob) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if m, ok := j.store.(store.Maintainer); ok {
		count, err := m.SweepTemp(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to sweep temp files")
		} else if count > 0 {
			log.Info().Int64("count", count).Msg("swept stale temp files")
		}
	}

	j.scanCorrupt(ctx)
}

// scanCorrupt walks every stored id and reads it back. Records that no
// longer parse are reported but left in place for manual recovery.
func (j *MaintenanceJob) scanCorrupt(ctx context.Context) {
	ids, err := j.store.IDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to enumerate session ids")
		return
	}

	corrupt := 0
	for _, id := range ids {
		_, err := j.store.Get(ctx, id)
		if apperrors.GetCode(err) == apperrors.ErrCodeCorruptRecord {
			corrupt++
			audit.Log(ctx, audit.Event{
				Type:      audit.EventCorruptRecord,
				SessionID: id,
			})
		}
	}

	if corrupt > 0 {
		log.Warn().Int("count", corrupt).Int("total", len(ids)).Msg("corrupt session records detected")
	}
}
