/**
 * @description
 * This file defines the event handler that processes sync requests arriving from
 * RabbitMQ. Other services publish account.sync.requested when they need fresh
 * trading balances for a user (for example right before showing a portfolio).
 *
 * @notes
 * - Returning true acknowledges the message. false requeues it.
 * - Malformed messages are acknowledged to avoid a requeue loop.
 */
package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
)

// UserSyncer refreshes every trading account of a user.
type UserSyncer interface {
	SyncUserAccounts(ctx context.Context, userID string) (BulkSyncSummary, error)
}

// SyncRequestHandler handles account.sync.requested events.
type SyncRequestHandler struct {
	syncer  UserSyncer
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewSyncRequestHandler creates a new instance of SyncRequestHandler.
func NewSyncRequestHandler(syncer UserSyncer, logger logrus.FieldLogger) *SyncRequestHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SyncRequestHandler{
		syncer:  syncer,
		timeout: 2 * time.Minute,
		logger:  logger.WithField("component", "sync_request_consumer"),
	}
}

// HandleSyncRequested processes a single account.sync.requested message.
func (h *SyncRequestHandler) HandleSyncRequested(body []byte) bool {
	var event domain.SyncRequestedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.WithError(err).Warn("malformed account.sync.requested event")
		return true
	}
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		h.logger.Warn("account.sync.requested event missing user_id; acking")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	summary, err := h.syncer.SyncUserAccounts(ctx, userID)
	if err != nil {
		// Listing failed; the store may recover.
		h.logger.WithError(err).WithField("user_id", userID).Error("bulk sync for requested user failed")
		return false
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"total":   summary.Total,
		"synced":  summary.Synced,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	}).Info("processed sync request")
	return true
}
