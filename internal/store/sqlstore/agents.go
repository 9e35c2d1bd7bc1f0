package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

// AgentStore implements store.AgentConfigStore.
type AgentStore struct{ d *DB }

const agentColumns = `id, name, business_name, channel_address, display_phone, access_token,
	auto_reply, hours_start, hours_end, hours_tz, business_days, out_of_hours_message,
	response_time_target_sec, max_concurrent, persona, product_notes, updated_at`

func (s *AgentStore) GetAgentConfig(ctx context.Context, id string) (*store.AgentConfig, error) {
	row := s.d.db.QueryRowContext(ctx, s.d.q(`SELECT `+agentColumns+` FROM agent_configs WHERE id = $1`), id)
	return s.scan(row)
}

func (s *AgentStore) GetAgentConfigByAddress(ctx context.Context, address string) (*store.AgentConfig, error) {
	row := s.d.db.QueryRowContext(ctx, s.d.q(`SELECT `+agentColumns+` FROM agent_configs WHERE channel_address = $1`), address)
	return s.scan(row)
}

func (s *AgentStore) PutAgentConfig(ctx context.Context, a *store.AgentConfig) error {
	days, err := s.daysValue(a.BusinessHours.Days)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now()
	_, err = s.d.db.ExecContext(ctx, s.d.q(
		`INSERT INTO agent_configs (`+agentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, business_name = excluded.business_name,
			channel_address = excluded.channel_address, display_phone = excluded.display_phone,
			access_token = excluded.access_token, auto_reply = excluded.auto_reply,
			hours_start = excluded.hours_start, hours_end = excluded.hours_end,
			hours_tz = excluded.hours_tz, business_days = excluded.business_days,
			out_of_hours_message = excluded.out_of_hours_message,
			response_time_target_sec = excluded.response_time_target_sec,
			max_concurrent = excluded.max_concurrent, persona = excluded.persona,
			product_notes = excluded.product_notes, updated_at = excluded.updated_at`),
		a.ID, a.Name, a.BusinessName, a.ChannelAddress, a.DisplayPhone, a.AccessToken,
		a.AutoReply, a.BusinessHours.Start, a.BusinessHours.End, a.BusinessHours.Timezone, days,
		a.OutOfHoursMessage, a.ResponseTimeTargetSec, a.MaxConcurrent, a.Persona, a.ProductNotes,
		utc(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert agent config: %w", err)
	}
	return nil
}

// daysValue encodes business days as TEXT[] on Postgres and a JSON array on SQLite.
func (s *AgentStore) daysValue(days []string) (any, error) {
	if days == nil {
		days = []string{}
	}
	if s.d.dialect == Postgres {
		return pq.Array(days), nil
	}
	b, err := json.Marshal(days)
	if err != nil {
		return nil, fmt.Errorf("encode business days: %w", err)
	}
	return string(b), nil
}

func (s *AgentStore) scan(row *sql.Row) (*store.AgentConfig, error) {
	var (
		a       store.AgentConfig
		pgDays  pq.StringArray
		rawDays string
	)
	var daysDst any = &rawDays
	if s.d.dialect == Postgres {
		daysDst = &pgDays
	}
	err := row.Scan(&a.ID, &a.Name, &a.BusinessName, &a.ChannelAddress, &a.DisplayPhone, &a.AccessToken,
		&a.AutoReply, &a.BusinessHours.Start, &a.BusinessHours.End, &a.BusinessHours.Timezone, daysDst,
		&a.OutOfHoursMessage, &a.ResponseTimeTargetSec, &a.MaxConcurrent, &a.Persona, &a.ProductNotes,
		&a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if s.d.dialect == Postgres {
		a.BusinessHours.Days = []string(pgDays)
	} else if rawDays != "" {
		if err := json.Unmarshal([]byte(rawDays), &a.BusinessHours.Days); err != nil {
			return nil, fmt.Errorf("decode business days: %w", err)
		}
	}
	return &a, nil
}
