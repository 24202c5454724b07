package services

import (
	"context"
	"time"

	"vehicle-auction/internal/domain"
	"vehicle-auction/pkg/logger"
	"vehicle-auction/pkg/utils"

	"github.com/robfig/cron/v3"
)

// CronLotScheduler persists open/close jobs in the scheduler repository and
// polls for due ones. Durable jobs survive restarts; precise closes are
// handled by the manager's in-process timers on top.
type CronLotScheduler struct {
	cron   *cron.Cron
	repo   domain.SchedulerRepository
	lotMgr *LotManager
	log    logger.Logger
}

func NewCronLotScheduler(repo domain.SchedulerRepository, lotMgr *LotManager, log logger.Logger) *CronLotScheduler {
	return &CronLotScheduler{
		cron:   cron.New(cron.WithSeconds()),
		repo:   repo,
		lotMgr: lotMgr,
		log:    log,
	}
}

func (s *CronLotScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting lot scheduler")

	_, err := s.cron.AddFunc("@every 15s", func() {
		s.processPendingJobs(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronLotScheduler) Stop() error {
	s.log.Info("Stopping lot scheduler")
	s.cron.Stop()
	return nil
}

func (s *CronLotScheduler) ScheduleLotOpen(ctx context.Context, lotID string, startAt time.Time) error {
	job := &domain.ScheduledJob{
		ID:        utils.GenerateID("job"),
		LotID:     lotID,
		JobType:   domain.JobOpenLot,
		RunAt:     startAt,
		Status:    domain.JobPending,
		CreatedAt: time.Now(),
	}

	return s.repo.CreateJob(ctx, job)
}

func (s *CronLotScheduler) ScheduleLotClose(ctx context.Context, lotID string, closeAt time.Time) error {
	job := &domain.ScheduledJob{
		ID:        utils.GenerateID("job"),
		LotID:     lotID,
		JobType:   domain.JobCloseLot,
		RunAt:     closeAt,
		Status:    domain.JobPending,
		CreatedAt: time.Now(),
	}

	return s.repo.CreateJob(ctx, job)
}

func (s *CronLotScheduler) RescheduleLotClose(ctx context.Context, lotID string, newCloseAt time.Time) error {
	if err := s.repo.CancelJobsForLot(ctx, lotID); err != nil {
		return err
	}

	return s.ScheduleLotClose(ctx, lotID, newCloseAt)
}

func (s *CronLotScheduler) CancelSchedule(ctx context.Context, lotID string) error {
	return s.repo.CancelJobsForLot(ctx, lotID)
}

func (s *CronLotScheduler) processPendingJobs(ctx context.Context) {
	jobs, err := s.repo.GetPendingJobs(ctx, time.Now())
	if err != nil {
		s.log.Error("Failed to get pending jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.log.Info("Processing job", "job_id", job.ID, "type", job.JobType, "lot_id", job.LotID)

		var err error
		switch job.JobType {
		case domain.JobOpenLot:
			err = s.lotMgr.OpenLot(ctx, job.LotID)
		case domain.JobCloseLot:
			err = s.lotMgr.CloseLot(ctx, job.LotID)
		}

		if err != nil {
			s.log.Error("Failed to execute job", "job_id", job.ID, "error", err)
			// Left pending, will retry on the next tick
			continue
		}

		s.repo.UpdateJobStatus(ctx, job.ID, domain.JobExecuted)
	}
}
