package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"photoflow/internal/client/queue"
	"photoflow/internal/client/transport"
	"photoflow/internal/config"
	"photoflow/internal/log"
	"photoflow/internal/models"
)

func main() {
	destFlag := flag.String("context", "event", "destination context: event, portfolio, or hero")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Environment)

	store, err := queue.Open(cfg.Client.QueuePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open upload queue")
	}
	defer store.Close()

	manager := queue.NewManager(store, cfg.Client.MaxRetries, log.Component(logger, "queue"))
	client := transport.New(cfg.Client, log.Component(logger, "transport"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Args(), *destFlag, manager, client, logger); err != nil {
		logger.Fatal().Err(err).Msg("uploader failed")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: uploader [flags] <command>

commands:
  enqueue FILE...   queue files and start uploading
  resume            resume the persisted session
  retry             requeue failed items under the retry ceiling and send
  status            show the persisted session
  discard           drop the persisted session

flags:
`)
	flag.PrintDefaults()
}

func run(ctx context.Context, args []string, dest string, manager *queue.Manager, client *transport.Client, logger zerolog.Logger) error {
	switch args[0] {
	case "enqueue":
		if len(args) < 2 {
			return fmt.Errorf("enqueue needs at least one file")
		}
		destination, err := models.ParseDestinationContext(dest)
		if err != nil {
			return err
		}
		batch, err := manager.Enqueue(ctx, destination, args[1:])
		if err != nil {
			return err
		}
		logger.Info().Int("items", len(batch.Items)).Str("session", batch.SessionID).Msg("session persisted")
		return drive(ctx, manager, client, batch)

	case "resume":
		batch, err := manager.Restore(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			fmt.Println("nothing to resume")
			return nil
		}
		return drive(ctx, manager, client, batch)

	case "retry":
		batch, err := manager.Restore(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			fmt.Println("nothing to retry")
			return nil
		}
		requeued, err := manager.RetryFailed(ctx, batch)
		if err != nil {
			return err
		}
		logger.Info().Int("requeued", requeued).Msg("failed items requeued")
		return drive(ctx, manager, client, batch)

	case "status":
		batch, err := manager.Restore(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			fmt.Println("no persisted session")
			return nil
		}
		printStatus(batch, manager)
		return nil

	case "discard":
		batch, err := manager.Restore(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}
		return manager.Discard(ctx, batch)
	}

	return fmt.Errorf("unknown command %q", args[0])
}

func drive(ctx context.Context, manager *queue.Manager, client *transport.Client, batch *queue.Batch) error {
	pending := batch.Pending()
	if len(pending) == 0 {
		fmt.Println("nothing queued")
		return nil
	}

	for _, item := range pending {
		if err := manager.MarkUploading(ctx, batch, item.ID); err != nil {
			return err
		}
	}

	progress := func(itemID string, sent, total int64) {
		percent := 100
		if total > 0 {
			percent = int(sent * 100 / total)
		}
		_ = manager.SetProgress(ctx, batch, itemID, percent)
		if sent >= total {
			// bytes are out; the server is now processing this item
			_ = manager.MarkProcessing(ctx, batch, itemID)
		}
	}

	results, err := client.SendBatch(ctx, batch.Context, pending, progress)
	if err != nil {
		if reqErr := manager.RequeueAfterSendFailure(context.WithoutCancel(ctx), batch, err.Error()); reqErr != nil {
			return reqErr
		}
		return err
	}

	outcomes := make([]queue.ItemOutcome, 0, len(results))
	for _, res := range results {
		outcomes = append(outcomes, queue.ItemOutcome{
			ItemID:    res.ItemID,
			Success:   res.Success,
			Error:     res.Error,
			Retryable: res.Retryable,
		})
	}
	if err := manager.Reconcile(ctx, batch, outcomes); err != nil {
		return err
	}

	printStatus(batch, manager)
	return nil
}

func printStatus(batch *queue.Batch, manager *queue.Manager) {
	for _, item := range batch.Items {
		line := fmt.Sprintf("%-30s %-10s %3d%%", item.Filename, item.Status, item.Progress)
		if item.LastError != "" {
			line += "  " + item.LastError
		}
		fmt.Println(line)
	}
	if exhausted := manager.Exhausted(batch); len(exhausted) > 0 {
		fmt.Printf("%d item(s) exceeded the retry limit and need attention\n", len(exhausted))
	}
}
