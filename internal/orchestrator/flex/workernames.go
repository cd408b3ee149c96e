package flex

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/twilio"
)

const (
	workerNameExpiration      = 30 * time.Minute
	workerNameCleanupInterval = 10 * time.Minute
)

// WorkerFetcher is the slice of the provider client the name cache needs.
type WorkerFetcher interface {
	FetchWorker(ctx context.Context, workspaceSid, workerSid string) (*twilio.Worker, error)
}

// workerNames resolves worker sids to display names. Each sid is fetched from
// the provider at most once per cache window; concurrent lookups of the same
// sid collapse into a single call. A failed fetch caches the fallback so the
// provider is not hammered for a worker it cannot describe.
type workerNames struct {
	fetcher WorkerFetcher
	cache   *gocache.Cache
	group   singleflight.Group
	logger  *logger.Logger
}

func newWorkerNames(fetcher WorkerFetcher, log *logger.Logger) *workerNames {
	return &workerNames{
		fetcher: fetcher,
		cache:   gocache.New(workerNameExpiration, workerNameCleanupInterval),
		logger:  log,
	}
}

// Resolve returns the display name for workerSid, or fallback when the
// provider has nothing better.
func (w *workerNames) Resolve(ctx context.Context, workspaceSid, workerSid, fallback string) string {
	if workerSid == "" {
		return fallback
	}
	if cached, ok := w.cache.Get(workerSid); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}

	resolved, _, _ := w.group.Do(workerSid, func() (interface{}, error) {
		// Recheck inside the flight: a concurrent caller may have populated
		// the cache while this one waited on the group.
		if cached, ok := w.cache.Get(workerSid); ok {
			if name, ok := cached.(string); ok {
				return name, nil
			}
		}
		name := w.fetchName(ctx, workspaceSid, workerSid, fallback)
		w.cache.SetDefault(workerSid, name)
		return name, nil
	})
	if name, ok := resolved.(string); ok {
		return name
	}
	return fallback
}

func (w *workerNames) fetchName(ctx context.Context, workspaceSid, workerSid, fallback string) string {
	worker, err := w.fetcher.FetchWorker(ctx, workspaceSid, workerSid)
	if err != nil {
		w.logger.Warn("Worker fetch failed, using fallback name",
			zap.String("worker_sid", workerSid),
			zap.Error(err))
		return fallback
	}
	if name := displayName(worker); name != "" {
		return name
	}
	return fallback
}

// displayName picks the best available name from a worker record: a name
// field inside the attributes document beats the friendly name.
func displayName(worker *twilio.Worker) string {
	if worker.Attributes != "" {
		var attrs map[string]interface{}
		if err := json.Unmarshal([]byte(worker.Attributes), &attrs); err == nil {
			for _, key := range []string{"full_name", "fullName", "fullname", "name"} {
				if value, ok := attrs[key].(string); ok {
					if name := strings.TrimSpace(value); name != "" {
						return name
					}
				}
			}
		}
	}
	return strings.TrimSpace(worker.FriendlyName)
}
