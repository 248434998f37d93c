package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sentinel/internal/check"
	"sentinel/internal/config"
	"sentinel/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrAgentUnknown means the target agent uuid is not in the master's
	// agent list.
	ErrAgentUnknown = errors.New("unknown agent")
	// ErrAgentRejected means the agent answered but refused the operation.
	ErrAgentRejected = errors.New("agent rejected request")
)

// Dispatcher drives the control surface of remote agents: placing, updating
// and withdrawing checks, and mirroring each placement in AgentAssignment
// rows so the master knows where every check runs.
type Dispatcher struct {
	logger *zap.Logger
	db     *gorm.DB
	client *http.Client
	agents map[string]config.AgentEndpoint
}

func New(logger *zap.Logger, db *gorm.DB, agents []config.AgentEndpoint) *Dispatcher {
	byUUID := make(map[string]config.AgentEndpoint, len(agents))
	for _, a := range agents {
		byUUID[a.UUID] = a
	}
	return &Dispatcher{
		logger: logger,
		db:     db,
		client: &http.Client{Timeout: 15 * time.Second},
		agents: byUUID,
	}
}

// Agents lists the configured agent endpoints.
func (d *Dispatcher) Agents() []config.AgentEndpoint {
	out := make([]config.AgentEndpoint, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a)
	}
	return out
}

// Place pushes a new check to an agent and records the assignment. A 409
// from the agent means the master's view has diverged; it is surfaced as an
// error, never papered over with an update.
func (d *Dispatcher) Place(ctx context.Context, agentUUID string, spec check.Spec) error {
	agent, ok := d.agents[agentUUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentUnknown, agentUUID)
	}

	status, err := d.send(ctx, agent, http.MethodPost, fmt.Sprintf("/check/%d", spec.ID), spec)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		d.logger.Error("Agent already holds the check; assignment state has diverged",
			zap.Uint32("check_id", spec.ID),
			zap.String("agent", agentUUID))
		return fmt.Errorf("%w: check %d already placed on %s", ErrAgentRejected, spec.ID, agentUUID)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("%w: status %d", ErrAgentRejected, status)
	}

	assignment := models.AgentAssignment{CheckID: spec.ID, AgentUUID: agentUUID}
	if err := d.db.Create(&assignment).Error; err != nil {
		return fmt.Errorf("failed to record assignment: %w", err)
	}

	d.logger.Info("Check placed",
		zap.Uint32("check_id", spec.ID),
		zap.String("agent", agentUUID))
	return nil
}

// Update pushes a changed spec to the agent already holding the check.
func (d *Dispatcher) Update(ctx context.Context, spec check.Spec) error {
	agentUUID, err := d.assignedAgent(spec.ID)
	if err != nil {
		return err
	}
	agent := d.agents[agentUUID]

	status, err := d.send(ctx, agent, http.MethodPut, fmt.Sprintf("/check/%d", spec.ID), spec)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAgentRejected, status)
	}

	d.logger.Info("Check updated on agent",
		zap.Uint32("check_id", spec.ID),
		zap.String("agent", agentUUID))
	return nil
}

// Withdraw removes the check from its agent and drops the assignment. A 404
// from the agent still clears the assignment: the goal state is reached
// either way.
func (d *Dispatcher) Withdraw(ctx context.Context, checkID uint32) error {
	agentUUID, err := d.assignedAgent(checkID)
	if err != nil {
		return err
	}
	agent := d.agents[agentUUID]

	status, err := d.send(ctx, agent, http.MethodDelete, fmt.Sprintf("/check/%d", checkID), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("%w: status %d", ErrAgentRejected, status)
	}

	if err := d.db.Where("check_id = ?", checkID).Delete(&models.AgentAssignment{}).Error; err != nil {
		return fmt.Errorf("failed to clear assignment: %w", err)
	}

	d.logger.Info("Check withdrawn",
		zap.Uint32("check_id", checkID),
		zap.String("agent", agentUUID))
	return nil
}

// JobAction triggers one of the agent's per-check GET actions (run, pause,
// resume).
func (d *Dispatcher) JobAction(ctx context.Context, checkID uint32, action string) error {
	agentUUID, err := d.assignedAgent(checkID)
	if err != nil {
		return err
	}
	agent := d.agents[agentUUID]

	status, err := d.send(ctx, agent, http.MethodGet, fmt.Sprintf("/check/%d/%s", checkID, action), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAgentRejected, status)
	}
	return nil
}

// Ping probes an agent's liveness through its uptime endpoint.
func (d *Dispatcher) Ping(ctx context.Context, agentUUID string) error {
	agent, ok := d.agents[agentUUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentUnknown, agentUUID)
	}
	status, err := d.send(ctx, agent, http.MethodGet, "/uptime", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAgentRejected, status)
	}
	return nil
}

// SyncAll pushes every enabled assigned check back to its agent on startup.
// Agents hold state in memory only; after a restart they come up empty and
// the master restores their job tables. Upsert semantics make this safe when
// the agent kept running.
func (d *Dispatcher) SyncAll(ctx context.Context, specFor func(def *models.CheckDefinition) (check.Spec, error)) {
	var assignments []models.AgentAssignment
	if err := d.db.Find(&assignments).Error; err != nil {
		d.logger.Error("Failed to load assignments for sync", zap.Error(err))
		return
	}

	for _, a := range assignments {
		agent, ok := d.agents[a.AgentUUID]
		if !ok {
			d.logger.Warn("Assignment points to an unconfigured agent",
				zap.Uint32("check_id", a.CheckID),
				zap.String("agent", a.AgentUUID))
			continue
		}

		var def models.CheckDefinition
		if err := d.db.First(&def, "id = ?", a.CheckID).Error; err != nil {
			d.logger.Error("Assignment without a definition",
				zap.Uint32("check_id", a.CheckID),
				zap.Error(err))
			continue
		}
		if !def.Enabled {
			continue
		}

		spec, err := specFor(&def)
		if err != nil {
			d.logger.Error("Failed to build spec from definition",
				zap.Uint32("check_id", a.CheckID),
				zap.Error(err))
			continue
		}

		status, err := d.send(ctx, agent, http.MethodPut, fmt.Sprintf("/check/%d", spec.ID), spec)
		if err != nil || status != http.StatusOK {
			d.logger.Error("Failed to sync check to agent",
				zap.Uint32("check_id", spec.ID),
				zap.String("agent", a.AgentUUID),
				zap.Int("status", status),
				zap.Error(err))
			continue
		}
	}

	d.logger.Info("Agent sync complete", zap.Int("assignments", len(assignments)))
}

func (d *Dispatcher) assignedAgent(checkID uint32) (string, error) {
	var assignment models.AgentAssignment
	if err := d.db.First(&assignment, "check_id = ?", checkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("check %d has no agent assignment", checkID)
		}
		return "", err
	}
	if _, ok := d.agents[assignment.AgentUUID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentUnknown, assignment.AgentUUID)
	}
	return assignment.AgentUUID, nil
}

func (d *Dispatcher) send(ctx context.Context, agent config.AgentEndpoint, method, path string, body any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, agent.URL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Agent-UUID", agent.UUID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("agent %s unreachable: %w", agent.UUID, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
