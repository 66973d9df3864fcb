package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"whale-relay/internal/storage"
)

func (a *App) requirePostgres(ctx context.Context, what string) (*storage.Store, func(), error) {
	store, closer, err := a.openPostgres(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; cannot " + what)
	}
	return store, closer, nil
}

// Keys prints the active dedup keys, or writes them as CSV.
func (a *App) Keys(ctx context.Context, opts KeysOptions, out io.Writer) error {
	store, closeStore, err := a.requirePostgres(ctx, "list keys")
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := store.ListActive(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.CSVPath != "" {
		return writeKeysCSV(opts.CSVPath, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no active keys")
		return nil
	}

	now := time.Now().UTC()
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Key\tClaimed (UTC)\tExpires in")
	for _, e := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			e.Key,
			e.ClaimedAt.UTC().Format(time.RFC3339),
			e.ExpiresAt.Sub(now).Truncate(time.Second),
		)
	}
	return writer.Flush()
}

// Prune deletes expired keys once.
func (a *App) Prune(ctx context.Context, out io.Writer) error {
	store, closeStore, err := a.requirePostgres(ctx, "prune keys")
	if err != nil {
		return err
	}
	defer closeStore()

	removed, err := store.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "removed %d expired keys\n", removed)
	return nil
}
