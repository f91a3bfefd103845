package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/metrics"
)

// Sweeper drops expired entries and reports how many went.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type CleanupJob struct {
	sessions Sweeper
	metrics  *metrics.Metrics
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCleanupJob(sessions Sweeper, m *metrics.Metrics, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		metrics:  m,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop waits for an in-flight sweep to finish. It is safe to call twice.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "credential sessions", j.sessions.Sweep)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
		return
	}
	if count > 0 {
		j.metrics.AddSessionsSwept(count)
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
