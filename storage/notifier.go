package storage

import (
	"context"
	"runtime"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"prism-board/domain"
)

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Notifier publishes confirmed board changes to an Azure queue so other
// sessions and services can refresh.
type Notifier struct {
	queue            queueClient
	queueConcurrency int
}

// NewNotifier creates a queue-backed notifier.
func NewNotifier(connStr, queueName string) (*Notifier, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &Notifier{queue: q, queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU())}, nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu < 1 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

// Publish sends each event as one queue message, up to queueConcurrency at a
// time. The first failure cancels the remaining sends.
func (n *Notifier) Publish(ctx context.Context, userID string, events []domain.BoardEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	limit := n.queueConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, ev := range events {
		g.Go(func() error {
			data, err := sonic.Marshal(domain.BoardEventEnvelope{UserID: userID, Event: ev})
			if err != nil {
				return err
			}
			_, err = n.queue.EnqueueMessage(ctx, string(data), nil)
			return err
		})
	}
	return g.Wait()
}
