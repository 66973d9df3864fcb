package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"whale-relay/internal/alerting"
	"whale-relay/internal/dedup"
	"whale-relay/internal/service"
)

// Replay 将目录中保存的 webhook body 重新投递一遍，重复的会被去重。
func (a *App) Replay(ctx context.Context, opts ReplayOptions, out io.Writer) error {
	files, err := payloadFiles(opts.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .json files in %s", opts.Dir)
	}

	var (
		store    dedup.Store
		notifier alerting.Notifier
		closer   = func() {}
	)
	if opts.DryRun {
		a.Logger.Warn().Msg("replay dry-run: messages are printed, nothing is sent")
		store = dedup.NewMemoryStore(nil)
		notifier = alerting.NewWriterNotifier(out)
	} else {
		store, closer, err = a.openDedupStore(ctx)
		if err != nil {
			return err
		}
		notifier = a.newNotifier()
	}
	defer closer()

	// echo 在回放时没有意义
	svc := a.newService(store, notifier, false)

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var delivered, duplicates, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range files {
		path := path
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			body, err := os.ReadFile(path)
			if err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Str("file", path).Msg("read payload failed")
				return nil
			}
			res, err := svc.Ingest(gctx, service.Request{Body: body, Signature: a.sign(body)})
			switch {
			case err != nil:
				failed.Add(1)
				a.Logger.Error().Err(err).Str("file", path).Str("kind", service.KindOf(err).String()).Msg("replay failed")
			case res.Duplicate:
				duplicates.Add(1)
			default:
				delivered.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fmt.Fprintf(out, "delivered=%d duplicates=%d failed=%d\n", delivered.Load(), duplicates.Load(), failed.Load())
	if failed.Load() > 0 {
		return errors.New("some payloads failed to replay; check the logs")
	}
	return nil
}

func payloadFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
