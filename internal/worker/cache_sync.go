package worker

import (
	"context"
	"encoding/json"

	"circulation-service/internal/broker"
	"circulation-service/internal/models"
	"circulation-service/internal/service"
	"circulation-service/internal/store"
	"circulation-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// CacheSyncWorker consumes circulation events and refreshes the
// availability cache for the affected book. With several instances
// behind one cache, this keeps reads warm after another instance's
// mutation.
type CacheSyncWorker struct {
	consumer *broker.Consumer
	store    *store.Store
	cache    service.AvailabilityCache
	logger   *zap.Logger
}

// NewCacheSyncWorker creates a new cache sync worker
func NewCacheSyncWorker(consumer *broker.Consumer, st *store.Store, cache service.AvailabilityCache) *CacheSyncWorker {
	return &CacheSyncWorker{
		consumer: consumer,
		store:    st,
		cache:    cache,
		logger:   util.GetLogger(),
	}
}

// Start consumes events until the context is cancelled
func (w *CacheSyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Cache sync worker started")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop closes the underlying consumer
func (w *CacheSyncWorker) Stop() error {
	return w.consumer.Close()
}

func (w *CacheSyncWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event struct {
		EventType string `json:"event_type"`
		BookID    int64  `json:"book_id"`
	}
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		w.logger.Warn("Skipping malformed event", zap.Error(err))
		return nil
	}

	// only issue and return move the counter
	switch event.EventType {
	case models.EventTypeLoanIssued, models.EventTypeLoanReturned:
	default:
		return nil
	}

	return w.refresh(ctx, event.BookID)
}

func (w *CacheSyncWorker) refresh(ctx context.Context, bookID int64) error {
	book, err := w.store.GetBook(ctx, bookID)
	if err != nil {
		w.logger.Warn("Failed to load book for cache sync",
			zap.Int64("book_id", bookID), zap.Error(err))
		return nil
	}
	if err := w.cache.SetAvailability(ctx, bookID, book.AvailableCopies); err != nil {
		w.logger.Warn("Failed to refresh availability cache",
			zap.Int64("book_id", bookID), zap.Error(err))
	}
	return nil
}
