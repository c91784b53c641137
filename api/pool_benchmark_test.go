package api

import (
	"testing"
	"time"

	"prism-board/domain"
)

func BenchmarkTryEnqueueJob(b *testing.B) {
	job := notifyJob{
		userID: "user",
		events: []domain.BoardEvent{{
			ID:      "ev-1",
			Type:    domain.EventTodosReordered,
			Column:  domain.ColumnQ1,
			TaskIDs: []int64{1, 2, 3},
		}},
	}

	b.Run("Buffered", func(b *testing.B) {
		resetNotifierForTests()
		defer resetNotifierForTests()

		jobs = make(chan notifyJob, 1024)
		handoffTimeout = 0

		b.ReportAllocs()
		for b.Loop() {
			if !tryEnqueueJob(job) {
				b.Fatal("expected buffered enqueue to succeed")
			}
			select {
			case <-jobs:
			default:
				b.Fatal("expected buffered job to be queued")
			}
		}
	})

	b.Run("BufferFull", func(b *testing.B) {
		resetNotifierForTests()
		defer resetNotifierForTests()

		jobs = make(chan notifyJob, 1)
		handoffTimeout = 0
		jobs <- job

		b.ReportAllocs()
		for b.Loop() {
			if tryEnqueueJob(job) {
				b.Fatal("expected enqueue to fail when buffer is saturated")
			}
		}
	})

	b.Run("HandoffTimeout", func(b *testing.B) {
		resetNotifierForTests()
		defer resetNotifierForTests()

		jobs = make(chan notifyJob, 1)
		handoffTimeout = time.Nanosecond
		jobs <- job

		b.ReportAllocs()
		for b.Loop() {
			if tryEnqueueJob(job) {
				b.Fatal("expected enqueue to fail after handoff timeout")
			}
		}
	})
}
