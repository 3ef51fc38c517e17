package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// mergeDaySchema overlays updates onto an existing day. Updated keys win,
// untouched keys survive.
func mergeDaySchema(existing, updates DaySchema) DaySchema {
	merged := make(DaySchema, len(existing)+len(updates))
	for key, value := range existing {
		merged[key] = value
	}
	for key, value := range updates {
		merged[key] = value
	}
	return merged
}

// mergeCumulativeSchema is additive only: keys already known keep their
// original example, new keys are recorded with the first value seen.
// Returns the merged schema and the keys seen for the first time.
func mergeCumulativeSchema(existing CumulativeSchema, updates []metricUpdate) (CumulativeSchema, []string) {
	merged := make(CumulativeSchema, len(existing)+len(updates))
	for key, entry := range existing {
		merged[key] = entry
	}

	var newKeys []string
	for _, update := range updates {
		if _, known := merged[update.Key]; known {
			continue
		}
		merged[update.Key] = SchemaExample{Example: MetricValue{Value: update.Value, Goal: update.Goal}}
		newKeys = append(newKeys, update.Key)
	}
	sort.Strings(newKeys)
	return merged, newKeys
}

// updatesByDate groups metric updates into per-date day schemas. A key
// repeated for the same date keeps the last value.
func updatesByDate(updates []metricUpdate) map[string]DaySchema {
	grouped := make(map[string]DaySchema)
	for _, update := range updates {
		day, ok := grouped[update.Date]
		if !ok {
			day = DaySchema{}
			grouped[update.Date] = day
		}
		day[update.Key] = MetricValue{Value: update.Value, Goal: update.Goal}
	}
	return grouped
}

type turnResult struct {
	Updates          []metricUpdate
	ChartChanges     []chartChange
	CumulativeSchema CumulativeSchema
}

// applyTurn persists everything one utterance produced inside a single
// transaction: day merges, cumulative schema growth, explicit chart
// changes, and the two conversation messages. Either all of it lands or
// none of it does.
func (a *App) applyTurn(ctx context.Context, userID, userMessage, assistantReply string, actions parsedActions) (turnResult, error) {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return turnResult{}, err
	}
	defer tx.Rollback(ctx)

	schema, err := loadCumulativeSchemaForUpdate(ctx, tx, userID)
	if err != nil {
		return turnResult{}, err
	}
	mergedSchema, _ := mergeCumulativeSchema(schema, actions.Updates)

	for date, dayUpdates := range updatesByDate(actions.Updates) {
		if err := upsertDay(ctx, tx, userID, date, dayUpdates); err != nil {
			return turnResult{}, err
		}
	}

	if len(actions.Updates) > 0 {
		if err := saveCumulativeSchema(ctx, tx, userID, mergedSchema); err != nil {
			return turnResult{}, err
		}
	}

	for _, change := range actions.ChartChanges {
		if err := upsertChartTypeConfig(ctx, tx, userID, change.Key, change.ChartType, true); err != nil {
			return turnResult{}, err
		}
	}

	if err := appendConversationTurn(ctx, tx, userID, userMessage, assistantReply); err != nil {
		return turnResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return turnResult{}, err
	}

	return turnResult{
		Updates:          actions.Updates,
		ChartChanges:     actions.ChartChanges,
		CumulativeSchema: mergedSchema,
	}, nil
}

func loadCumulativeSchema(ctx context.Context, q dbQuerier, userID string) (CumulativeSchema, error) {
	return scanCumulativeSchema(q.QueryRow(
		ctx,
		`SELECT "schemaJson" FROM "CumulativeSchema" WHERE "userId" = $1`,
		userID,
	))
}

func loadCumulativeSchemaForUpdate(ctx context.Context, q dbQuerier, userID string) (CumulativeSchema, error) {
	return scanCumulativeSchema(q.QueryRow(
		ctx,
		`SELECT "schemaJson" FROM "CumulativeSchema" WHERE "userId" = $1 FOR UPDATE`,
		userID,
	))
}

func scanCumulativeSchema(row pgx.Row) (CumulativeSchema, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CumulativeSchema{}, nil
		}
		return nil, err
	}
	schema := CumulativeSchema{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("stored cumulative schema is corrupt: %w", err)
		}
	}
	return schema, nil
}

func saveCumulativeSchema(ctx context.Context, q dbQuerier, userID string, schema CumulativeSchema) error {
	_, err := q.Exec(
		ctx,
		`INSERT INTO "CumulativeSchema" (id, "userId", "schemaJson", "updatedAt")
		 VALUES ($1, $2, $3::jsonb, NOW())
		 ON CONFLICT ("userId") DO UPDATE
		 SET "schemaJson" = EXCLUDED."schemaJson", "updatedAt" = NOW()`,
		uuid.NewString(),
		userID,
		mustMarshalJSON(schema),
	)
	return err
}

func upsertDay(ctx context.Context, q dbQuerier, userID, date string, updates DaySchema) error {
	var raw []byte
	existing := DaySchema{}
	err := q.QueryRow(
		ctx,
		`SELECT "daySchemaJson" FROM "Day" WHERE "userId" = $1 AND date = $2 FOR UPDATE`,
		userID,
		date,
	).Scan(&raw)
	switch {
	case err == nil:
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("stored day schema for %s is corrupt: %w", date, err)
			}
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return err
	}

	merged := mergeDaySchema(existing, updates)
	_, err = q.Exec(
		ctx,
		`INSERT INTO "Day" (id, "userId", date, "daySchemaJson", "updatedAt")
		 VALUES ($1, $2, $3, $4::jsonb, NOW())
		 ON CONFLICT ("userId", date) DO UPDATE
		 SET "daySchemaJson" = EXCLUDED."daySchemaJson", "updatedAt" = NOW()`,
		uuid.NewString(),
		userID,
		date,
		mustMarshalJSON(merged),
	)
	return err
}

// upsertChartTypeConfig writes one chart preference. Explicit requests
// overwrite whatever is stored; automatic recommendations only fill gaps.
func upsertChartTypeConfig(ctx context.Context, q dbQuerier, userID, keyName, chartType string, overwrite bool) error {
	query := `INSERT INTO "ChartTypeConfig" (id, "userId", "keyName", "chartType", "updatedAt")
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT ("userId", "keyName") DO NOTHING`
	if overwrite {
		query = `INSERT INTO "ChartTypeConfig" (id, "userId", "keyName", "chartType", "updatedAt")
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT ("userId", "keyName") DO UPDATE
		 SET "chartType" = EXCLUDED."chartType", "updatedAt" = NOW()`
	}
	_, err := q.Exec(ctx, query, uuid.NewString(), userID, keyName, chartType)
	return err
}

func loadConversation(ctx context.Context, q dbQuerier, userID string, forUpdate bool) ([]ChatTurn, error) {
	query := `SELECT "messagesJson" FROM "Conversation" WHERE "userId" = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var raw []byte
	if err := q.QueryRow(ctx, query, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []ChatTurn{}, nil
		}
		return nil, err
	}
	messages := []ChatTurn{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &messages); err != nil {
			return nil, fmt.Errorf("stored conversation is corrupt: %w", err)
		}
	}
	return messages, nil
}

// appendConversationTurn grows the transcript by exactly two messages:
// what the user said and the raw model reply.
func appendConversationTurn(ctx context.Context, q dbQuerier, userID, userMessage, assistantReply string) error {
	messages, err := loadConversation(ctx, q, userID, true)
	if err != nil {
		return err
	}
	messages = append(messages,
		ChatTurn{Role: "user", Content: userMessage},
		ChatTurn{Role: "assistant", Content: assistantReply},
	)
	_, err = q.Exec(
		ctx,
		`INSERT INTO "Conversation" (id, "userId", "messagesJson", "updatedAt")
		 VALUES ($1, $2, $3::jsonb, NOW())
		 ON CONFLICT ("userId") DO UPDATE
		 SET "messagesJson" = EXCLUDED."messagesJson", "updatedAt" = NOW()`,
		uuid.NewString(),
		userID,
		mustMarshalJSON(messages),
	)
	return err
}
