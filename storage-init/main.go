package main

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"prism-board/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx := context.Background()
	g, gctx := errgroup.WithContext(ctx)

	if path := os.Getenv("SQLITE_PATH"); path != "" {
		g.Go(func() error { return migrateSQLite(gctx, path) })
	}

	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		g.Go(func() error {
			return createTables(gctx, connStr, []string{os.Getenv("TASKS_TABLE")})
		})
		g.Go(func() error {
			return createQueues(gctx, connStr, []string{os.Getenv("BOARD_EVENTS_QUEUE")})
		})
	} else if os.Getenv("SQLITE_PATH") == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING or SQLITE_PATH")
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("storage init: %v", err)
	}
	log.Info("storage init complete")
}

func migrateSQLite(ctx context.Context, path string) error {
	s, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	log.WithField("path", path).Info("sqlite schema migrated")
	return nil
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}
