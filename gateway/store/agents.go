// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Agent is a registered autonomous caller inside an organization.
// Agents authenticate with the organization's API key and identify
// themselves by id so activity can be attributed per agent.
type Agent struct {
	ID          uuid.UUID `json:"id"`
	OrgID       int64     `json:"org_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentActivity is one verification performed by an agent.
type AgentActivity struct {
	AgentID   uuid.UUID `json:"agent_id"`
	Engine    string    `json:"engine"`
	Verdict   string    `json:"verdict"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrDuplicateAgent is returned when an agent name already exists in the
// organization.
var ErrDuplicateAgent = fmt.Errorf("agent name already registered")

// RegisterAgent creates an agent. Names are unique per organization.
func (s *Store) RegisterAgent(ctx context.Context, orgID int64, name, description string) (*Agent, error) {
	agent := &Agent{
		ID:          uuid.New(),
		OrgID:       orgID,
		Name:        name,
		Description: description,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO agents (id, org_id, name, description) VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		agent.ID, orgID, name, description).Scan(&agent.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateAgent
		}
		return nil, fmt.Errorf("registering agent: %w", err)
	}
	return agent, nil
}

// GetAgent loads an agent, scoped to its organization.
func (s *Store) GetAgent(ctx context.Context, orgID int64, id uuid.UUID) (*Agent, error) {
	agent := &Agent{}
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, description, created_at FROM agents
		 WHERE id = $1 AND org_id = $2`, id, orgID).
		Scan(&agent.ID, &agent.OrgID, &agent.Name, &description, &agent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}
	agent.Description = description.String
	return agent, nil
}

// ListAgents returns an organization's agents, newest first.
func (s *Store) ListAgents(ctx context.Context, orgID int64) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, name, description, created_at FROM agents
		 WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var (
			a           Agent
			description sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Name, &description, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		a.Description = description.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent and its activity.
func (s *Store) DeleteAgent(ctx context.Context, orgID int64, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM agent_activity WHERE agent_id = $1`, id); err != nil {
		return fmt.Errorf("deleting agent activity: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM agents WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// RecordAgentActivity logs one verification performed by an agent.
// Best-effort, like security events.
func (s *Store) RecordAgentActivity(agentID uuid.UUID, engine, verdict string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO agent_activity (agent_id, engine, verdict) VALUES ($1, $2, $3)`,
			agentID, engine, verdict)
		if err != nil {
			s.log.Warn("", "", "failed to record agent activity", map[string]any{
				"agent_id": agentID.String(),
				"error":    err.Error(),
			})
		}
	}()
}

// AgentActivityLog returns an agent's recent activity, newest first.
func (s *Store) AgentActivityLog(ctx context.Context, agentID uuid.UUID, limit int) ([]AgentActivity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, engine, verdict, created_at FROM agent_activity
		 WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing agent activity: %w", err)
	}
	defer rows.Close()

	var activity []AgentActivity
	for rows.Next() {
		var a AgentActivity
		if err := rows.Scan(&a.AgentID, &a.Engine, &a.Verdict, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}
