package workflow

import (
	"context"
	"errors"
	"log/slog"

	"parcel/internal/bundle"
	"parcel/internal/delivery"
	"parcel/internal/logging"
	"parcel/internal/notifications"
)

type publisher struct {
	notifier notifications.Service
	logger   *slog.Logger
}

func (p publisher) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if p.notifier == nil {
		return
	}
	logger := logging.WithContext(ctx, p.logger)
	if err := p.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send notification", logging.String("event", string(event)))
			return
		}
		logging.WarnWithContext(logger, "lifecycle notification failed", "notification_failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldErrorHint, "check notifications.webhook_url and kafka_brokers"),
			logging.String(logging.FieldImpact, "external collaborators miss this event"),
		)
	}
}

func basePayload(req *bundle.Request) notifications.Payload {
	payload := notifications.Payload{"bundleId": req.ID}
	if req.Label != "" {
		payload["label"] = req.Label
	}
	if req.ExpiresAt != nil {
		payload["expiresAt"] = req.ExpiresAt.UTC()
	}
	return payload
}

func readyPayload(req *bundle.Request, result bundle.ArchiveResult, baseURL string) notifications.Payload {
	payload := basePayload(req)
	payload["archiveUrl"] = delivery.ArchiveURL(baseURL, req.ID)
	payload["archiveSizeBytes"] = result.SizeBytes
	payload["checksum"] = result.Checksum
	payload["passwordProtected"] = req.RequiresPassword()
	return payload
}

func failedPayload(req *bundle.Request, reason string) notifications.Payload {
	payload := basePayload(req)
	payload["reason"] = reason
	return payload
}

func timedOutPayload(req *bundle.Request) notifications.Payload {
	payload := basePayload(req)
	payload["reason"] = bundle.TimeoutReason
	payload["completedChunks"] = req.CompletedChunks
	payload["totalChunks"] = req.TotalChunks
	return payload
}
