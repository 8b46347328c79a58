package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grigta/webportal/pkg/config"
	"github.com/grigta/webportal/pkg/messaging"
	"github.com/grigta/webportal/services/webapp/internal/bootstrap"
	"github.com/grigta/webportal/services/webapp/internal/cli"
	"github.com/grigta/webportal/services/webapp/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dbctl:", err)
		stop()
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg *config.Config) (*cli.Env, error) {
	storage, err := bootstrap.OpenStorage(ctx, cfg, false)
	if err != nil {
		return nil, err
	}

	mq, err := bootstrap.OpenEvents(cfg)
	if err != nil {
		storage.Close(context.Background())
		return nil, err
	}

	env := &cli.Env{
		Ops: repository.New(storage.DB, storage.Registry),
		EnsureIndexes: func(ctx context.Context) error {
			return storage.Registry.EnsureIndexes(ctx, storage.DB)
		},
		Close: func() {
			if mq != nil {
				_ = mq.Close()
			}
			storage.Close(context.Background())
		},
	}

	if mq != nil {
		env.TailEvents = func(ctx context.Context, queue string, handler func([]byte) error) error {
			if _, err := mq.DeclareQueue(queue, false, true, false); err != nil {
				return err
			}
			if err := mq.BindQueue(queue, "document.#", messaging.EventsExchange); err != nil {
				return err
			}
			return mq.ConsumeWithHandler(ctx, queue, "dbctl", handler)
		}
	}

	return env, nil
}
