package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// TemplateOpsAlert is the template key for operator alerts. Ops alerts ride
// the normal send path so they are throttled, logged and deduplicated like
// any other message.
const TemplateOpsAlert = "OPS_ALERT"

const (
	spikeWindow   = 15 * time.Minute
	spikeCooldown = 30 * time.Minute
)

// SpikeMonitor watches the failure rate in the message log and alerts
// operators when it crosses the warn or crit threshold. One alert per
// cooldown window, tracked in the singleton state row; a warn-to-crit
// escalation breaks through the cooldown.
type SpikeMonitor struct {
	logs   repository.MessageLogRepository
	state  repository.SpikeStateRepository
	sender Sender
	warnAt int64
	critAt int64
}

// NewSpikeMonitor creates a monitor from injected dependencies.
func NewSpikeMonitor(logs repository.MessageLogRepository, state repository.SpikeStateRepository, sender Sender, warnAt, critAt int64) *SpikeMonitor {
	return &SpikeMonitor{logs: logs, state: state, sender: sender, warnAt: warnAt, critAt: critAt}
}

// NewSpikeMonitorFromDB wires the production monitor with thresholds from
// SPIKE_WARN_THRESHOLD and SPIKE_CRIT_THRESHOLD.
func NewSpikeMonitorFromDB(db *gorm.DB) *SpikeMonitor {
	return NewSpikeMonitor(
		repository.NewMessageLogRepository(db),
		repository.NewSpikeStateRepository(db),
		NewOrchestratorFromDB(db),
		envThreshold("SPIKE_WARN_THRESHOLD", 10),
		envThreshold("SPIKE_CRIT_THRESHOLD", 25),
	)
}

func envThreshold(key string, fallback int64) int64 {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warnf("[SpikeMonitor] invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

// CheckOnce counts failed sends in the trailing window and raises at most
// one operator alert. It returns the level observed on this check.
func (m *SpikeMonitor) CheckOnce(ctx context.Context, now time.Time) (string, error) {
	count, err := m.logs.CountFailedSince(now.Add(-spikeWindow))
	if err != nil {
		return models.AlertLevelNone, err
	}

	level := models.AlertLevelNone
	switch {
	case count >= m.critAt:
		level = models.AlertLevelCrit
	case count >= m.warnAt:
		level = models.AlertLevelWarn
	}
	if level == models.AlertLevelNone {
		return level, nil
	}

	state, err := m.state.Get()
	if err != nil {
		return level, err
	}
	escalated := level == models.AlertLevelCrit && state.LastLevel == models.AlertLevelWarn
	inCooldown := state.LastAlertAt != nil && now.Sub(*state.LastAlertAt) < spikeCooldown
	if inCooldown && !escalated {
		return level, nil
	}

	// The cooldown bucket in the key makes concurrent monitors collapse
	// onto one alert via the send-path dedup.
	key := fmt.Sprintf("spike:%s:%d", level, now.Truncate(spikeCooldown).Unix())
	alert := OpsAlertRequest(
		key,
		fmt.Sprintf("notification failure spike: level=%s", level),
		fmt.Sprintf("%d failed sends in the last %s (warn=%d crit=%d)", count, spikeWindow, m.warnAt, m.critAt),
	)
	if _, err := m.sender.Send(ctx, alert); err != nil {
		return level, err
	}

	alertAt := now
	state.LastAlertAt = &alertAt
	state.LastLevel = level
	state.LastCount = int(count)
	if err := m.state.Save(state); err != nil {
		return level, err
	}
	log.Warnf("[SpikeMonitor] %s alert raised, %d failures in window", level, count)
	return level, nil
}

// OpsAlertRequest builds an operator notification. The subject is the
// operator account named by OPS_ALERT_USER_ID.
func OpsAlertRequest(idempotencyKey, summary, detail string) SendRequest {
	subjectID := uint(1)
	if raw := env.GetEnv("OPS_ALERT_USER_ID", ""); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil && n > 0 {
			subjectID = uint(n)
		}
	}
	return SendRequest{
		TemplateKey:    TemplateOpsAlert,
		SubjectID:      subjectID,
		Context:        map[string]string{"summary": summary, "detail": detail},
		IdempotencyKey: idempotencyKey,
	}
}
