// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/qwed-ai/platform/gateway/policy"
)

// RecordSecurityEvent implements policy.EventSink. The write is
// best-effort: admission decisions never wait on, or fail because of,
// the event store.
func (s *Store) RecordSecurityEvent(event policy.SecurityEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		var tenantID any
		if event.TenantID != 0 {
			tenantID = event.TenantID
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO security_events (tenant_id, event_type, layer, reason, source_ip, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			tenantID, string(event.Type), string(event.Layer), event.Reason,
			event.SourceIP, event.Timestamp)
		if err != nil {
			s.log.Warn(fmt.Sprintf("%d", event.TenantID), "", "failed to persist security event", map[string]any{
				"event_type": string(event.Type),
				"error":      err.Error(),
			})
		}
	}()
}

// SecurityEvents returns a tenant's recent events, newest first.
// limit is clamped to 500.
func (s *Store) SecurityEvents(ctx context.Context, tenantID int64, limit int) ([]policy.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(tenant_id, 0), event_type, layer, reason, COALESCE(source_ip, ''), created_at
		 FROM security_events WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	var events []policy.SecurityEvent
	for rows.Next() {
		var (
			e         policy.SecurityEvent
			eventType string
			layer     string
		)
		if err := rows.Scan(&e.TenantID, &eventType, &layer, &e.Reason, &e.SourceIP, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning security event: %w", err)
		}
		e.Type = policy.EventType(eventType)
		e.Layer = policy.Layer(layer)
		events = append(events, e)
	}
	return events, rows.Err()
}
