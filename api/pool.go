package api

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

type notifyJob struct {
	userID string
	events []domain.BoardEvent
}

const (
	defaultNotifyWorkers  = 8
	notifyWorkersPerCPU   = 4
	maxNotifyWorkers      = 64
	notifyBufferPerWorker = 128
)

var (
	once           sync.Once
	jobs           chan notifyJob
	workerCount    int
	jobBuf         int
	notifyTimeout  time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalNotifier Publisher
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
)

// shutdownBoardNotifier stops worker goroutines and clears shared state. It is
// used on graceful shutdown and by tests.
func shutdownBoardNotifier() {
	if jobs != nil {
		close(jobs)
		jobs = nil
	}

	workerWG.Wait()

	globalNotifier = nil
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	notifyTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

// computeWorkerDefaults sizes the worker pool from the CPU count.
func computeWorkerDefaults(cpu int) (workers, buffer int) {
	workers = defaultNotifyWorkers
	if cpu > 0 {
		workers = cpu * notifyWorkersPerCPU
	}
	if workers < defaultNotifyWorkers {
		workers = defaultNotifyWorkers
	}
	if workers > maxNotifyWorkers {
		workers = maxNotifyWorkers
	}
	return workers, workers * notifyBufferPerWorker
}

func initBoardNotifier(pub Publisher, logger *log.Logger) {
	if pub == nil {
		return
	}
	once.Do(func() {
		globalNotifier = pub
		if logger == nil {
			panic("Logger is not initialized")
		}
		globalLog = logger

		defWorkers, defBuf := computeWorkerDefaults(runtime.NumCPU())
		workerCount = envInt("NOTIFY_WORKERS", defWorkers)
		jobBuf = envInt("NOTIFY_BUFFER", defBuf)
		notifyTimeout = envDur("NOTIFY_TIMEOUT", 30*time.Second)
		handoffTimeout = envDur("NOTIFY_HANDOFF_TIMEOUT", 15*time.Millisecond)

		jobs = make(chan notifyJob, jobBuf)
		for i := 0; i < workerCount; i++ {
			workerWG.Add(1)
			go worker(i, jobs)
		}
		globalLog.Infof("board notifier started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, notifyTimeout, handoffTimeout)
	})
}

func worker(id int, jobCh <-chan notifyJob) {
	defer workerWG.Done()
	for j := range jobCh {
		publishJob(j, id)
	}
}

func publishJob(j notifyJob, workerID int) {
	ctx, cancel := context.WithTimeout(bg, notifyTimeout)
	err := globalNotifier.Publish(ctx, j.userID, j.events)
	cancel()
	if err != nil && globalLog != nil {
		globalLog.WithFields(log.Fields{"user": j.userID, "count": len(j.events), "worker": workerID}).WithError(err).Error("board notification failed")
	}
}

// notifyBoardChange stamps the events and hands them to the worker pool. When
// the pool is saturated the events are published inline so none are lost.
func notifyBoardChange(userID string, events ...domain.BoardEvent) {
	if globalNotifier == nil || len(events) == 0 {
		return
	}
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		events[i].Timestamp = nextTimestamp()
	}
	job := notifyJob{userID: userID, events: events}
	if tryEnqueueJob(job) {
		return
	}
	if globalLog != nil {
		globalLog.Warn("notify buffer saturated; publishing inline")
	}
	publishJob(job, -1)
}

func tryEnqueueJob(job notifyJob) bool {
	if jobs == nil {
		return false
	}

	if ok, closed := trySendNonBlocking(jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan notifyJob, job notifyJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan notifyJob, job notifyJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
