package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// CredentialPersister flushes live session credentials to durable storage.
type CredentialPersister interface {
	PersistAll(ctx context.Context)
}

// SnapshotJob periodically snapshots connected sessions' credential files
// into the database so a crash between credential rotations loses at most
// one interval of key material.
type SnapshotJob struct {
	persister CredentialPersister
	interval  time.Duration
	done      chan struct{}
}

func NewSnapshotJob(persister CredentialPersister, interval time.Duration) *SnapshotJob {
	return &SnapshotJob{
		persister: persister,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *SnapshotJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("credential snapshot job started")
}

func (j *SnapshotJob) Stop() {
	close(j.done)
	log.Info().Msg("credential snapshot job stopped")
}

func (j *SnapshotJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.snapshot()
		}
	}
}

func (j *SnapshotJob) snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.persister.PersistAll(ctx)
}
