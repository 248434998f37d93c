package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/alert"
	"sentinel/internal/check"
	"sentinel/internal/config"
	"sentinel/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Alerter receives state-transition events. Satisfied by alert.Dispatcher.
type Alerter interface {
	Dispatch(ctx context.Context, def *models.CheckDefinition, event alert.Event)
}

// Engine turns the stream of raw observations into state transitions. Every
// observation is recorded; alerts fire only on edges, so a steady stream of
// identical results produces history rows and nothing else.
type Engine struct {
	logger  *zap.Logger
	db      *gorm.DB
	alerter Alerter
	ssl     config.SSLAlertConfig

	mu    sync.Mutex
	locks map[uint32]*sync.Mutex
}

func New(logger *zap.Logger, db *gorm.DB, alerter Alerter, ssl config.SSLAlertConfig) *Engine {
	return &Engine{
		logger:  logger,
		db:      db,
		alerter: alerter,
		ssl:     ssl,
		locks:   make(map[uint32]*sync.Mutex),
	}
}

// lock serializes processing per check. Observations for different checks
// proceed concurrently; two for the same check never interleave.
func (e *Engine) lock(checkID uint32) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[checkID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[checkID] = l
	}
	return l
}

func (e *Engine) load(checkID uint32) (*models.CheckDefinition, *models.CheckState, error) {
	var def models.CheckDefinition
	if err := e.db.First(&def, "id = ?", checkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("unknown check %d", checkID)
		}
		return nil, nil, err
	}
	var state models.CheckState
	if err := e.db.First(&state, "check_id = ?", checkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = models.CheckState{
				CheckID:    checkID,
				Status:     int(check.StatusUnknown),
				BodyStatus: int(check.StatusUnknown),
			}
			if err := e.db.Create(&state).Error; err != nil {
				return nil, nil, err
			}
		} else {
			return nil, nil, err
		}
	}
	return &def, &state, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(check.TimeLayout, value)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// HandleResult processes a primary observation. The history row and last
// response time are written before edge detection, so even a steady state
// leaves a record.
func (e *Engine) HandleResult(ctx context.Context, payload *check.ResultPayload) error {
	l := e.lock(payload.CheckID)
	l.Lock()
	defer l.Unlock()

	def, state, err := e.load(payload.CheckID)
	if err != nil {
		return err
	}

	status := int(check.StatusDown)
	if payload.Status != nil {
		status = *payload.Status
	}
	at := parseTime(payload.NowUTC)

	history := models.CheckHistory{
		CheckID:      payload.CheckID,
		Kind:         string(check.KindCheck),
		Status:       status,
		ResponseTime: payload.ResponseTime,
		Error:        payload.Error,
		CheckedAt:    at,
	}
	if err := e.db.Create(&history).Error; err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}

	updates := map[string]any{}
	if payload.ResponseTime != nil {
		state.ResponseTime = payload.ResponseTime
		updates["response_time"] = payload.ResponseTime
	}

	if status == int(check.StatusUp) {
		state.ConsecutiveFails = 0
	} else {
		state.ConsecutiveFails++
	}
	updates["consecutive_fails"] = state.ConsecutiveFails

	transition := state.Status != status
	if transition {
		state.Status = status
		state.ChangedAt = at
		updates["status"] = status
		updates["changed_at"] = at
		if status == int(check.StatusUp) {
			state.LastUp = &at
			updates["last_up"] = &at
		} else {
			state.LastDown = &at
			updates["last_down"] = &at
		}
	}

	uptime := e.uptimePercentage(payload.CheckID)
	state.UptimePercentage = uptime
	updates["uptime_percentage"] = uptime

	if err := e.db.Model(&models.CheckState{}).Where("check_id = ?", payload.CheckID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	if transition {
		e.alerter.Dispatch(ctx, def, availabilityEvent(def, payload, status, at))
	}
	return nil
}

func availabilityEvent(def *models.CheckDefinition, payload *check.ResultPayload, status int, at time.Time) alert.Event {
	event := alert.Event{
		CheckID:   def.ID,
		CheckName: def.Name,
		Target:    payload.URL,
		AlertType: "availability",
		At:        at,
	}
	if status == int(check.StatusUp) {
		event.Level = alert.LevelInfo
		event.Message = "is available"
	} else {
		event.Level = alert.LevelWarning
		event.Message = "is not available"
		if payload.Error != "" {
			event.Message = "is not available: " + payload.Error
		}
	}
	return event
}

// HandleSSL processes a certificate-expiry observation. The warning and
// critical thresholds are armed flags: each fires once when the remaining
// lifetime first drops below its threshold and rearms only after the
// certificate is renewed past it.
func (e *Engine) HandleSSL(ctx context.Context, payload *check.ResultPayload) error {
	l := e.lock(payload.CheckID)
	l.Lock()
	defer l.Unlock()

	def, state, err := e.load(payload.CheckID)
	if err != nil {
		return err
	}

	if payload.SSLDateExp == "" {
		// Certificate could not be inspected; record and move on. The primary
		// result carries the availability signal for this probe.
		history := models.CheckHistory{
			CheckID:   payload.CheckID,
			Kind:      string(check.KindSSL),
			Status:    int(check.StatusDown),
			Error:     payload.Error,
			CheckedAt: parseTime(payload.NowUTC),
		}
		return e.db.Create(&history).Error
	}

	expiry := parseTime(payload.SSLDateExp)
	now := parseTime(payload.NowDate)
	days := int(expiry.Sub(now).Hours() / 24)
	at := parseTime(payload.NowUTC)

	history := models.CheckHistory{
		CheckID:   payload.CheckID,
		Kind:      string(check.KindSSL),
		Status:    int(check.StatusUp),
		Error:     fmt.Sprintf("expires in %d days", days),
		CheckedAt: at,
	}
	if err := e.db.Create(&history).Error; err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}

	updates := map[string]any{}
	target := payload.URL

	if days < e.ssl.ExpireCriticalDays {
		if !state.SSLCriticalArmed {
			state.SSLCriticalArmed = true
			updates["ssl_critical_armed"] = true
			e.alerter.Dispatch(ctx, def, alert.Event{
				CheckID:   def.ID,
				CheckName: def.Name,
				Target:    target,
				AlertType: "ssl",
				Level:     alert.LevelCritical,
				Message:   fmt.Sprintf("certificate expires in %d days", days),
				At:        at,
			})
		}
	} else if state.SSLCriticalArmed {
		state.SSLCriticalArmed = false
		updates["ssl_critical_armed"] = false
	}

	if days < e.ssl.ExpireWarningDays {
		if !state.SSLWarningArmed {
			state.SSLWarningArmed = true
			updates["ssl_warning_armed"] = true
			e.alerter.Dispatch(ctx, def, alert.Event{
				CheckID:   def.ID,
				CheckName: def.Name,
				Target:    target,
				AlertType: "ssl",
				Level:     alert.LevelWarning,
				Message:   fmt.Sprintf("certificate expires in %d days", days),
				At:        at,
			})
		}
	} else if state.SSLWarningArmed {
		state.SSLWarningArmed = false
		updates["ssl_warning_armed"] = false
	}

	if len(updates) == 0 {
		return nil
	}
	if err := e.db.Model(&models.CheckState{}).Where("check_id = ?", payload.CheckID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

// HandleBody processes a page-content observation. Its status axis is
// independent of the primary one: a page can serve 200 with broken content.
func (e *Engine) HandleBody(ctx context.Context, payload *check.ResultPayload) error {
	l := e.lock(payload.CheckID)
	l.Lock()
	defer l.Unlock()

	def, state, err := e.load(payload.CheckID)
	if err != nil {
		return err
	}

	status := int(check.StatusDown)
	if payload.Status != nil {
		status = *payload.Status
	}
	at := parseTime(payload.NowUTC)

	history := models.CheckHistory{
		CheckID:   payload.CheckID,
		Kind:      string(check.KindBody),
		Status:    status,
		Error:     payload.Error,
		CheckedAt: at,
	}
	if err := e.db.Create(&history).Error; err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}

	if state.BodyStatus == status {
		return nil
	}
	if err := e.db.Model(&models.CheckState{}).Where("check_id = ?", payload.CheckID).
		Update("body_status", status).Error; err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	event := alert.Event{
		CheckID:   def.ID,
		CheckName: def.Name,
		Target:    payload.URL,
		AlertType: "body",
		At:        at,
	}
	if status == int(check.StatusUp) {
		event.Level = alert.LevelInfo
		event.Message = "page content restored"
	} else {
		event.Level = alert.LevelWarning
		event.Message = "page content check failed"
		if payload.Error != "" {
			event.Message = "page content check failed: " + payload.Error
		}
	}
	e.alerter.Dispatch(ctx, def, event)
	return nil
}

// uptimePercentage is the share of up observations in the retained history.
func (e *Engine) uptimePercentage(checkID uint32) int {
	var total, up int64
	e.db.Model(&models.CheckHistory{}).
		Where("check_id = ? AND kind = ?", checkID, string(check.KindCheck)).
		Count(&total)
	if total == 0 {
		return 0
	}
	e.db.Model(&models.CheckHistory{}).
		Where("check_id = ? AND kind = ? AND status = ?", checkID, string(check.KindCheck), int(check.StatusUp)).
		Count(&up)
	return int(up * 100 / total)
}
