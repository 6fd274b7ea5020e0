package pck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pckengine/internal/llmclient"
	"pckengine/internal/observability"
)

// AgentOrchestrator runs the per-turn state machine: parse tags, log
// touches, simulate, build a prompt, stream the LLM, parse the response's
// tags, log discoveries, complete the trajectory, and emit a terminal
// event. It is the only component that drives TrajectoryEngine,
// GraphReasoner, and an llmclient.Client together for one turn.
type AgentOrchestrator struct {
	store        Store
	trajectories *TrajectoryEngine
	reasoner     *GraphReasoner
	tagger       *TagParser
	llm          llmclient.Client

	similarIndex *SimilarTrajectoryIndex   // nil disables "situations like this one" evidence
	publisher    *KafkaTrajectoryPublisher // nil disables the completion outbox
}

// NewAgentOrchestrator wires the components a turn needs.
func NewAgentOrchestrator(store Store, trajectories *TrajectoryEngine, reasoner *GraphReasoner, llm llmclient.Client) *AgentOrchestrator {
	return &AgentOrchestrator{
		store:        store,
		trajectories: trajectories,
		reasoner:     reasoner,
		tagger:       NewTagParser(),
		llm:          llm,
	}
}

// WithSimilarTrajectoryIndex attaches the optional similarity index.
// Passing nil leaves the orchestrator in its default, no-op state.
func (o *AgentOrchestrator) WithSimilarTrajectoryIndex(idx *SimilarTrajectoryIndex) *AgentOrchestrator {
	o.similarIndex = idx
	return o
}

// WithTrajectoryPublisher attaches the optional Kafka outbox. Passing nil
// leaves the orchestrator in its default, no-op state.
func (o *AgentOrchestrator) WithTrajectoryPublisher(pub *KafkaTrajectoryPublisher) *AgentOrchestrator {
	o.publisher = pub
	return o
}

// ChatTurnInput is the caller-supplied input to one turn.
type ChatTurnInput struct {
	AccountID         string
	ConversationID    string // empty creates a new conversation
	Message           string
	ResumeFromEventID int64 // SSE resume point; 0 for a fresh stream
}

// Emit receives one StreamEvent at a time, in emission order. A non-nil
// return aborts the turn (treated the same as cancellation: the
// trajectory is left open, nothing further is yielded).
type Emit func(StreamEvent) error

// HandleTurn runs the S0-S12 state machine for one chat turn, yielding SSE
// events to emit as they're produced. ctx is checked between every yield;
// if it's done, the LLM stream stops, S10-S12 are skipped, and the
// trajectory is left open rather than completed.
func (o *AgentOrchestrator) HandleTurn(ctx context.Context, in ChatTurnInput, emit Emit) error {
	log := observability.LoggerWithTrace(ctx)
	ids := newEventIDCounter(in.ResumeFromEventID)

	yield := func(eventType string, data any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(StreamEvent{ID: ids.nextID(), Type: eventType, Data: data})
	}

	// S0: start.
	conversationID, err := o.ensureConversation(ctx, in.AccountID, in.ConversationID)
	if err != nil {
		return o.fail(ctx, yield, fmt.Errorf("ensure conversation: %w", err))
	}
	if _, err := o.store.InsertMessage(ctx, Message{
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        in.Message,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return o.fail(ctx, yield, fmt.Errorf("persist user message: %w", err))
	}

	trajectoryID, err := o.trajectories.StartTrajectory(ctx, in.AccountID, in.Message, conversationID)
	if err != nil {
		return o.fail(ctx, yield, fmt.Errorf("start trajectory: %w", err))
	}
	if err := yield(SSETrajectoryEvent, TrajectoryEventData{EventType: TEStart}); err != nil {
		return err
	}

	// S1: tag-parse(user).
	userMentions := o.tagger.ParseMentions(in.Message)
	userContext := o.tagger.ExtractContext(in.Message)

	// S2: log-touch(user-tags).
	touchedThisTurn := make(map[string]bool, len(userMentions))
	var simInputs []SimulationInput
	newEntityCount := 0
	for _, m := range userMentions {
		entityID, created, err := o.touchMention(ctx, in.AccountID, trajectoryID, m, "user", &userContext)
		if err != nil {
			return o.fail(ctx, yield, fmt.Errorf("log user touch: %w", err))
		}
		if created {
			newEntityCount++
		}
		touchedThisTurn[NormalizeName(m.Name)] = true
		simInputs = append(simInputs, SimulationInput{Name: m.Name, Type: m.Type})
		if err := yield(SSETrajectoryEvent, TrajectoryEventData{
			EventType:  TETouch,
			EntityID:   entityID,
			Name:       m.Name,
			EntityType: m.Type,
			Source:     "user",
		}); err != nil {
			return err
		}
	}

	// S3: simulate, only if there were any tags.
	var simResult SimulationResult
	simulationUsed := false
	if len(simInputs) > 0 {
		simResult, err = o.reasoner.Simulate(ctx, simInputs)
		if err != nil {
			return o.fail(ctx, yield, fmt.Errorf("simulate: %w", err))
		}
		simulationUsed = true

		similarCount := 0
		if o.similarIndex != nil {
			similar, simErr := o.similarIndex.SimilarTo(ctx, in.Message, 5)
			if simErr != nil {
				log.Warn().Err(simErr).Str("trajectory_id", trajectoryID).Msg("similar_trajectory_lookup_failed")
			} else {
				similarCount = len(similar)
			}
		}

		if err := yield(SSETrajectoryEvent, TrajectoryEventData{
			EventType:              TESimulate,
			OutcomeCount:           len(simResult.Outcomes),
			DifferentiatorCount:    len(simResult.Differentiators),
			ResolvedCount:          len(simResult.Resolved),
			UnresolvedCount:        len(simResult.Unresolved),
			HasPatterns:            simResult.HasPatterns,
			SimilarTrajectoryCount: similarCount,
		}); err != nil {
			return err
		}
		if _, err := o.trajectories.LogEvent(ctx, trajectoryID, LogEventInput{
			Type: EventSimulate,
			Data: map[string]any{"outcomeCount": len(simResult.Outcomes), "hasPatterns": simResult.HasPatterns},
		}); err != nil {
			return o.fail(ctx, yield, fmt.Errorf("log simulate event: %w", err))
		}
	}

	// S4: build-prompt, then always exactly one "reason" event.
	prompt := o.buildPrompt(in.Message, simulationUsed, simResult)
	if _, err := o.trajectories.LogEvent(ctx, trajectoryID, LogEventInput{
		Type: EventReason,
		Data: map[string]any{"simulationUsed": simulationUsed},
	}); err != nil {
		return o.fail(ctx, yield, fmt.Errorf("log reason event: %w", err))
	}
	if err := yield(SSETrajectoryEvent, TrajectoryEventData{EventType: TEReason, SimulationUsed: simulationUsed}); err != nil {
		return err
	}

	// S5/S6: stream-llm, chunk-emit.
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	var full strings.Builder
	var emitErr error
	fullText, err := o.llm.Stream(streamCtx, prompt, func(delta string) {
		if emitErr != nil {
			return
		}
		full.WriteString(delta)
		if emitErr = yield(SSEChunk, ChunkData{Content: delta, FullContent: full.String()}); emitErr != nil {
			stopStream()
		}
	})
	if ctx.Err() != nil {
		log.Debug().Str("trajectory_id", trajectoryID).Msg("turn_cancelled")
		return ctx.Err()
	}
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		return o.fail(ctx, yield, fmt.Errorf("llm stream: %w", err))
	}
	if fullText == "" {
		fullText = full.String()
	}

	// S7: tag-parse(assistant).
	assistantMentions := o.tagger.ParseMentions(fullText)
	assistantContext := o.tagger.ExtractContext(fullText)

	// S8: log-discover/touch(assistant-tags).
	entitiesReferenced := len(userMentions)
	for _, m := range assistantMentions {
		normalized := NormalizeName(m.Name)
		eventType := EventDiscover
		if touchedThisTurn[normalized] {
			eventType = EventTouch
		}
		entityID, created, err := o.logMention(ctx, in.AccountID, trajectoryID, m, eventType, "assistant", &assistantContext)
		if err != nil {
			return o.fail(ctx, yield, fmt.Errorf("log assistant mention: %w", err))
		}
		if created {
			newEntityCount++
		}
		if !touchedThisTurn[normalized] {
			entitiesReferenced++
		}
		touchedThisTurn[normalized] = true
		teType := TETouch
		if eventType == EventDiscover {
			teType = TEDiscover
		}
		if err := yield(SSETrajectoryEvent, TrajectoryEventData{
			EventType:  teType,
			EntityID:   entityID,
			Name:       m.Name,
			EntityType: m.Type,
			Source:     "assistant",
		}); err != nil {
			return err
		}
	}

	// S9: decide-event.
	if _, err := o.trajectories.LogEvent(ctx, trajectoryID, LogEventInput{
		Type: EventDecide,
		Data: map[string]any{
			"entitiesReferenced": entitiesReferenced,
			"newEntities":        newEntityCount,
		},
	}); err != nil {
		return o.fail(ctx, yield, fmt.Errorf("log decide event: %w", err))
	}
	if err := yield(SSETrajectoryEvent, TrajectoryEventData{
		EventType:          TEDecide,
		Action:             "respond",
		EntitiesReferenced: entitiesReferenced,
		NewEntities:        newEntityCount,
		SimulationUsed:     simulationUsed,
	}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// S10: complete-trajectory.
	summary := summarize(fullText)
	result, err := o.trajectories.CompleteTrajectory(ctx, trajectoryID, in.AccountID, summary)
	if err != nil {
		return o.fail(ctx, yield, fmt.Errorf("complete trajectory: %w", err))
	}

	if o.similarIndex != nil {
		if err := o.similarIndex.Index(ctx, trajectoryID, in.Message); err != nil {
			log.Warn().Err(err).Str("trajectory_id", trajectoryID).Msg("similar_trajectory_index_failed")
		}
	}
	if o.publisher != nil {
		ev := TrajectoryCompletedEvent{
			TrajectoryID:    trajectoryID,
			AccountID:       in.AccountID,
			EntitiesTouched: result.EntitiesTouched,
			EdgeCount:       len(result.EdgesTraversed),
			CompletedAt:     time.Now().UTC(),
		}
		if err := o.publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("trajectory_id", trajectoryID).Msg("trajectory_completed_publish_failed")
		}
	}

	// S11: persist-assistant-message.
	assistantMsg, err := o.store.InsertMessage(ctx, Message{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        fullText,
		TrajectoryID:   trajectoryID,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return o.fail(ctx, yield, fmt.Errorf("persist assistant message: %w", err))
	}

	// S12: emit-complete.
	return yield(SSEComplete, CompleteData{
		ConversationID: conversationID,
		MessageID:      assistantMsg.ID,
		TrajectoryID:   trajectoryID,
		Trajectory:     result,
	})
}

// fail emits a terminal error event and returns the original error. The
// trajectory started for this turn is intentionally left open per the
// failure semantics: chunks already emitted are advisory and not rolled
// back.
func (o *AgentOrchestrator) fail(ctx context.Context, yield func(string, any) error, err error) error {
	_ = yield(SSEError, ErrorData{Message: "turn failed", Error: err.Error()})
	return err
}

// ensureConversation returns conversationID unchanged if non-empty, else
// creates a new one for accountID.
func (o *AgentOrchestrator) ensureConversation(ctx context.Context, accountID, conversationID string) (string, error) {
	if conversationID != "" {
		return conversationID, nil
	}
	now := time.Now().UTC()
	conv, err := o.store.InsertConversation(ctx, Conversation{
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// touchMention find-or-creates the entity for m and logs a touch event
// carrying dctx as its decision context. created reports whether this call
// created the underlying entity row (used for the turn's newEntities tally).
func (o *AgentOrchestrator) touchMention(parent context.Context, accountID, trajectoryID string, m EntityMention, source string, dctx *DecisionContext) (entityID string, created bool, err error) {
	return o.logMention(parent, accountID, trajectoryID, m, EventTouch, source, dctx)
}

func (o *AgentOrchestrator) logMention(ctx context.Context, accountID, trajectoryID string, m EntityMention, eventType, source string, dctx *DecisionContext) (entityID string, created bool, err error) {
	_, lookupErr := o.store.FindEntityByNormalizedName(ctx, NormalizeName(m.Name))
	existedBefore := lookupErr == nil

	entityID, err = o.trajectories.FindOrCreateEntity(ctx, accountID, trajectoryID, m.Name, m.Type, "")
	if err != nil {
		return "", false, err
	}
	if _, err := o.trajectories.LogEvent(ctx, trajectoryID, LogEventInput{
		Type:     eventType,
		EntityID: entityID,
		Data:     map[string]any{"source": source},
		Context:  dctx,
	}); err != nil {
		return "", false, err
	}
	return entityID, !existedBefore, nil
}

// buildPrompt assembles the text sent to the LLM: the user's message,
// optionally prefixed with the reasoner's formatted simulation context.
func (o *AgentOrchestrator) buildPrompt(message string, simulationUsed bool, result SimulationResult) string {
	if !simulationUsed {
		return message
	}
	return formatForAI(result) + "\n---\n" + message
}

// summarize derives a short trajectory summary from the assistant's
// response text.
func summarize(text string) string {
	const maxLen = 200
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}
