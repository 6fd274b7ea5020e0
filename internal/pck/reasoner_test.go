package pck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEntity(t *testing.T, store Store, name, entityType string) Entity {
	t.Helper()
	ent, err := store.InsertEntity(context.Background(), Entity{Name: name, NormalizedName: NormalizeName(name), EntityType: entityType})
	require.NoError(t, err)
	return ent
}

func TestGraphReasonerResolveExactAndFuzzy(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	strategy := seedEntity(t, store, "fraction bars", EntityStrategy)

	reasoner := NewGraphReasoner(store)
	resolved, unresolved, err := reasoner.Resolve(ctx, []SimulationInput{
		{Name: "fraction bars", Type: EntityStrategy},
		{Name: "fraction", Type: EntityStrategy},
		{Name: "nothing like this exists"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, strategy.ID, resolved[0].ID)
	assert.Equal(t, strategy.ID, resolved[1].ID)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "nothing like this exists", unresolved[0])
}

func TestGraphReasonerSimulateProjectsOutcomes(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	strategy := seedEntity(t, store, "fraction bars", EntityStrategy)
	outcomeGood := seedEntity(t, store, "improved understanding", EntityOutcome)
	outcomeBad := seedEntity(t, store, "increased confusion", EntityOutcome)

	_, err := store.UpsertEdge(ctx, strategy.ID, outcomeGood.ID, "leads_to", time.Now(), func(e *Edge) {
		e.Weight = 8
		e.PositiveOutcomes = 8
	})
	require.NoError(t, err)
	_, err = store.UpsertEdge(ctx, strategy.ID, outcomeBad.ID, "leads_to", time.Now(), func(e *Edge) {
		e.Weight = 2
		e.NegativeOutcomes = 2
	})
	require.NoError(t, err)

	reasoner := NewGraphReasoner(store)
	result, err := reasoner.Simulate(ctx, []SimulationInput{{Name: "fraction bars", Type: EntityStrategy}})
	require.NoError(t, err)
	require.True(t, result.HasPatterns)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, outcomeGood.ID, result.Outcomes[0].EntityID)
	assert.InDelta(t, 0.8, result.Outcomes[0].Probability, 0.0001)
	assert.Equal(t, int64(10), result.TotalObservations)
}

func TestGraphReasonerSimulateUnresolvedOnly(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	reasoner := NewGraphReasoner(store)

	result, err := reasoner.Simulate(ctx, []SimulationInput{{Name: "never seen before"}})
	require.NoError(t, err)
	assert.Empty(t, result.Resolved)
	assert.Equal(t, []string{"never seen before"}, result.Unresolved)
	assert.False(t, result.HasPatterns)
}

func TestGraphReasonerFindDifferentiators(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	misconception := seedEntity(t, store, "denominator confusion", EntityMisconception)
	context1 := seedEntity(t, store, "small group", EntityContext)
	outcomeGood := seedEntity(t, store, "improved understanding", EntityOutcome)

	_, err := store.UpsertCooccurrence(ctx, misconception.ID, context1.ID, func(c *Cooccurrence) { c.Count = 12 })
	require.NoError(t, err)
	_, err = store.UpsertEdge(ctx, context1.ID, outcomeGood.ID, "", time.Now(), func(e *Edge) {
		e.PositiveOutcomes = 9
		e.NegativeOutcomes = 1
	})
	require.NoError(t, err)

	reasoner := NewGraphReasoner(store)
	result, err := reasoner.Simulate(ctx, []SimulationInput{{Name: "denominator confusion", Type: EntityMisconception}})
	require.NoError(t, err)
	require.Len(t, result.Differentiators, 1)
	diff := result.Differentiators[0]
	assert.Equal(t, context1.ID, diff.EntityID)
	assert.Equal(t, effectImproves, diff.Effect)
	assert.Equal(t, int64(12), diff.CooccurrenceStrength)
}

func TestGraphReasonerCounterfactualComparesSwap(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	strategyA := seedEntity(t, store, "fraction bars", EntityStrategy)
	strategyB := seedEntity(t, store, "number lines", EntityStrategy)
	outcome := seedEntity(t, store, "improved understanding", EntityOutcome)

	_, err := store.UpsertEdge(ctx, strategyA.ID, outcome.ID, "leads_to", time.Now(), func(e *Edge) {
		e.Weight = 2
		e.PositiveOutcomes = 2
	})
	require.NoError(t, err)
	_, err = store.UpsertEdge(ctx, strategyB.ID, outcome.ID, "leads_to", time.Now(), func(e *Edge) {
		e.Weight = 9
		e.PositiveOutcomes = 9
	})
	require.NoError(t, err)

	reasoner := NewGraphReasoner(store)
	result, err := reasoner.Counterfactual(ctx,
		[]SimulationInput{{Name: "fraction bars", Type: EntityStrategy}},
		Change{From: SimulationInput{Name: "fraction bars", Type: EntityStrategy}, To: SimulationInput{Name: "number lines", Type: EntityStrategy}},
	)
	require.NoError(t, err)
	require.Len(t, result.OutcomeShifts, 1)
	assert.Equal(t, "uncertain", result.NetEffect) // base side has only 2 observations, fewer than 5
}

func TestApplySwapReplacesMatchingElement(t *testing.T) {
	t.Parallel()
	base := []SimulationInput{{Name: "fraction bars", Type: EntityStrategy}, {Name: "small group", Type: EntityContext}}
	change := Change{From: SimulationInput{Name: "fraction bars", Type: EntityStrategy}, To: SimulationInput{Name: "number lines", Type: EntityStrategy}}
	alt := applySwap(base, change)
	require.Len(t, alt, 2)
	assert.Equal(t, "number lines", alt[0].Name)
	assert.Equal(t, "small group", alt[1].Name)
}

func TestApplySwapAppendsWhenNoMatch(t *testing.T) {
	t.Parallel()
	base := []SimulationInput{{Name: "small group", Type: EntityContext}}
	change := Change{From: SimulationInput{Name: "fraction bars", Type: EntityStrategy}, To: SimulationInput{Name: "number lines", Type: EntityStrategy}}
	alt := applySwap(base, change)
	require.Len(t, alt, 2)
	assert.Equal(t, "number lines", alt[1].Name)
}

func TestFormatForAIIsDeterministic(t *testing.T) {
	t.Parallel()
	result := SimulationResult{
		Resolved: []Entity{{Name: "fraction bars"}},
		Outcomes: []ProjectedOutcome{{Name: "improved understanding", Probability: 0.8, Weight: 8}},
	}
	first := formatForAI(result)
	second := formatForAI(result)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "fraction bars")
	assert.Contains(t, first, "improved understanding")
}
