package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/sync/errgroup"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/lumentree"
	"github.com/lumentreeinfo/lumentree/pkg/storage"
)

// seed logs in for each listed device so the token store is warm before the
// gateway starts, then drops tokens that already expired.
func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	client := lumentree.Configured(s)
	devices := lflag.String("seed-devices", "", "comma-delimited list of device IDs to log in for")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	if p, ok := s.(storage.Purger); ok {
		n, err := p.PurgeExpired(ctx, time.Now())
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to purge expired tokens", slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "purged expired tokens", slog.Int("count", n))
	}

	var ids []string
	for _, id := range strings.Split(*devices, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding device tokens", slog.Int("devices", len(ids)))

	var eg errgroup.Group
	eg.SetLimit(4)
	for _, id := range ids {
		eg.Go(func() error {
			ctx := log.WithDevice(ctx, id)
			// fetching device info forces a login and persists the token
			if _, err := client.GetDeviceInfo(ctx, id); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to seed token", slog.Any("error", err))
				return err
			}
			log.Ctx(ctx).InfoContext(ctx, "seeded token")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		os.Exit(1)
	}
}
