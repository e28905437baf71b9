package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Purger deletes rows that can no longer be used and reports how many
// were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type PurgeJob struct {
	name   string
	purger Purger
}

func NewPurgeJob(name string, purger Purger) *PurgeJob {
	return &PurgeJob{name: name, purger: purger}
}

func NewVerificationPurgeJob(purger Purger) *PurgeJob {
	return NewPurgeJob("verification_code_purge", purger)
}

func NewSessionPurgeJob(purger Purger) *PurgeJob {
	return NewPurgeJob("session_purge", purger)
}

func (j *PurgeJob) Name() string {
	return j.name
}

func (j *PurgeJob) Run(ctx context.Context) error {
	if j.purger == nil {
		return nil
	}
	removed, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("purged expired rows", zap.String("job", j.name), zap.Int64("removed", removed))
	}
	return nil
}
