package server

import (
	"context"
	"log"
	"sort"
	"time"
)

type processResult struct {
	Intent                  string            `json:"intent"`
	ChartChanges            []chartChange     `json:"chartChanges"`
	Updates                 []metricUpdate    `json:"updates"`
	RecommendedChartConfigs map[string]string `json:"recommendedChartConfigs"`
	CumulativeSchema        CumulativeSchema  `json:"cumulativeSchema"`
}

// processTurn runs one utterance end to end: classify, extract, persist,
// then recommend chart types for keys that appeared for the first time.
// Persistence is all-or-nothing; recommendations run after the commit
// and are allowed to fail.
func (a *App) processTurn(ctx context.Context, userID, description string, referenceDate time.Time) (processResult, error) {
	schema, err := loadCumulativeSchema(ctx, a.db, userID)
	if err != nil {
		return processResult{}, err
	}
	history, err := loadConversation(ctx, a.db, userID, false)
	if err != nil {
		return processResult{}, err
	}

	intent := a.classifyIntent(ctx, description, history)
	log.Printf("processing turn user=%s intent=%s", truncate(userID, 8), intent)

	actions, rawReply, err := a.parseUserActions(ctx, description, referenceDate, schema, history)
	if err != nil {
		return processResult{}, err
	}

	applied, err := a.applyTurn(ctx, userID, description, rawReply, actions)
	if err != nil {
		return processResult{}, err
	}

	recommendations := a.recommendAndStoreChartTypes(ctx, userID, applied)

	return processResult{
		Intent:                  intent,
		ChartChanges:            applied.ChartChanges,
		Updates:                 applied.Updates,
		RecommendedChartConfigs: recommendations,
		CumulativeSchema:        applied.CumulativeSchema,
	}, nil
}

// recommendAndStoreChartTypes fills in chart types for keys updated this
// turn that have no configured type and were not configured explicitly in
// the same utterance. Best-effort: a failure here never undoes the
// committed turn.
func (a *App) recommendAndStoreChartTypes(ctx context.Context, userID string, applied turnResult) map[string]string {
	explicit := make(map[string]bool, len(applied.ChartChanges))
	for _, change := range applied.ChartChanges {
		explicit[change.Key] = true
	}

	seen := map[string]bool{}
	var updatedKeys []string
	for _, update := range applied.Updates {
		if explicit[update.Key] || seen[update.Key] {
			continue
		}
		seen[update.Key] = true
		updatedKeys = append(updatedKeys, update.Key)
	}
	sort.Strings(updatedKeys)

	var candidates []string
	for _, key := range updatedKeys {
		var exists bool
		err := a.db.QueryRow(
			ctx,
			`SELECT EXISTS (SELECT 1 FROM "ChartTypeConfig" WHERE "userId" = $1 AND "keyName" = $2)`,
			userID,
			key,
		).Scan(&exists)
		if err != nil {
			log.Printf("chart config lookup failed for %s: %v", key, err)
			continue
		}
		if !exists {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) == 0 {
		return map[string]string{}
	}

	recommendations := a.recommendChartTypes(ctx, candidates)
	for key, chartType := range recommendations {
		if err := upsertChartTypeConfig(ctx, a.db, userID, key, chartType, false); err != nil {
			log.Printf("failed to store chart recommendation %s=%s: %v", key, chartType, err)
			delete(recommendations, key)
		}
	}
	return recommendations
}

// processDemoTurn is the stateless variant for signed-out visitors. The
// caller supplies the conversation and cumulative schema and gets the
// merged results back instead of anything being persisted.
func (a *App) processDemoTurn(ctx context.Context, req demoProcessRequest, referenceDate time.Time) (demoProcessResult, error) {
	schema := req.CumulativeSchema
	if schema == nil {
		schema = CumulativeSchema{}
	}
	history := req.Conversation
	if history == nil {
		history = []ChatTurn{}
	}

	actions, rawReply, err := a.parseUserActions(ctx, req.Description, referenceDate, schema, history)
	if err != nil {
		return demoProcessResult{}, err
	}

	mergedSchema, _ := mergeCumulativeSchema(schema, actions.Updates)

	// Without a server-side config store every key updated this turn is a
	// recommendation candidate, unless the user picked a type explicitly.
	explicit := make(map[string]bool, len(actions.ChartChanges))
	for _, change := range actions.ChartChanges {
		explicit[change.Key] = true
	}
	seen := map[string]bool{}
	var candidates []string
	for _, update := range actions.Updates {
		if update.Key == "" || seen[update.Key] || explicit[update.Key] {
			continue
		}
		seen[update.Key] = true
		candidates = append(candidates, update.Key)
	}
	sort.Strings(candidates)
	recommendations := a.recommendChartTypes(ctx, candidates)

	updatedConversation := append(append([]ChatTurn{}, history...),
		ChatTurn{Role: "user", Content: req.Description},
		ChatTurn{Role: "assistant", Content: rawReply},
	)

	return demoProcessResult{
		ChartChanges:            actions.ChartChanges,
		Updates:                 actions.Updates,
		RecommendedChartConfigs: recommendations,
		CumulativeSchemaUpdates: mergedSchema,
		UpdatedConversation:     updatedConversation,
	}, nil
}

type demoProcessResult struct {
	ChartChanges            []chartChange     `json:"chartChanges"`
	Updates                 []metricUpdate    `json:"updates"`
	RecommendedChartConfigs map[string]string `json:"recommendedChartConfigs"`
	CumulativeSchemaUpdates CumulativeSchema  `json:"cumulativeSchemaUpdates"`
	UpdatedConversation     []ChatTurn        `json:"updatedConversation"`
}
