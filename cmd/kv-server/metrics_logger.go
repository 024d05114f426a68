package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/kvstore"
	"github.com/kstaniek/resp-kv-server/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, store *kvstore.Store, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				st := store.Stats()
				metrics.SetStoreStats(st.Keys, st.Expiring)
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"accepted", snap.Accepted,
					"active", snap.Active,
					"store_keys", snap.StoreKeys,
					"store_expiring", snap.Expiring,
					"expired", snap.Expired,
					"errors", snap.Errors,
					"malformed", snap.Malformed,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
