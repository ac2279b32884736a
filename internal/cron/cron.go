package cron

import (
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/triagebox/mailsync/config"
	"github.com/triagebox/mailsync/interfaces"
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/tracing"
)

const (
	// GroupSync serializes jobs that touch the sync engine
	GroupSync = "sync"
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSync: new(sync.Mutex),
	},
}

// CronManager owns the periodic jobs of the process. The resync job re-runs
// every account's backfill window as a safety net for notifications missed
// while reconnecting.
type CronManager struct {
	cfg    *config.Config
	log    logger.Logger
	cron   *cronv3.Cron
	jobIDs map[string]cronv3.EntryID
	engine interfaces.SyncEngine
}

func NewCronManager(cfg *config.Config, log logger.Logger, engine interfaces.SyncEngine) *CronManager {
	return &CronManager{
		cfg:    cfg,
		log:    log,
		jobIDs: make(map[string]cronv3.EntryID),
		engine: engine,
	}
}

// Start initializes and starts the cron scheduler
func (cm *CronManager) Start() {
	cm.log.Info("Starting cron manager")
	// Seconds field enabled plus panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for running jobs to finish
		<-ctx.Done()
	}
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	schedule := cm.cfg.SyncConfig.ResyncSchedule
	if schedule == "" {
		cm.log.Info("Resync schedule empty, periodic resync disabled")
		return
	}

	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		jobLocks.locks[GroupSync].Lock()
		defer jobLocks.locks[GroupSync].Unlock()
		cm.log.Info("Running scheduled resync")
		cm.engine.Resync()
	})
	if err != nil {
		cm.log.Fatalf("Could not add resync cron job: %v", err)
	}
	cm.jobIDs["resync"] = id
	cm.log.Infof("Registered resync job with schedule: %s", schedule)
}
