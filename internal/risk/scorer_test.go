package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"FleetRiskAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedModel struct {
	out models.ModelOutput
	err error
}

func (m fixedModel) Predict(ctx context.Context, _ models.FeatureSnapshot) (models.ModelOutput, error) {
	return m.out, m.err
}

// blockingModel waits for ctx unless ignoreCtx is set, in which case it hangs past the deadline.
type blockingModel struct {
	ignoreCtx bool
	release   chan struct{}
}

func (m blockingModel) Predict(ctx context.Context, _ models.FeatureSnapshot) (models.ModelOutput, error) {
	if m.ignoreCtx {
		<-m.release
		return models.ModelOutput{FailureProbability: 90, ConfidenceScore: 90}, nil
	}
	<-ctx.Done()
	return models.ModelOutput{}, ctx.Err()
}

func TestScorer_ScoreHighRisk(t *testing.T) {
	scorer := NewScorer(fixedModel{out: models.ModelOutput{
		FailureProbability: 72.456,
		ConfidenceScore:    81,
		ModelVersion:       "v3",
	}}, time.Second, DefaultMinConfidence)

	snap := testSnapshot()
	p, err := scorer.Score(context.Background(), snap)
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "TRUCK-042", p.AssetID)
	assert.Equal(t, 72.46, p.FailureProbability)
	assert.Equal(t, models.RiskCritical, p.RiskLevel)
	assert.Equal(t, "v3", p.ModelVersion)
	assert.False(t, p.Advisory)
	assert.Equal(t, models.PolicyPending, p.PolicyStatus)
	assert.True(t, p.CapturedAt.Equal(snap.CapturedAt))
	assert.NotEmpty(t, p.Recommendations)
}

func TestScorer_LowConfidenceIsAdvisory(t *testing.T) {
	scorer := NewScorer(fixedModel{out: models.ModelOutput{
		FailureProbability: 85,
		ConfidenceScore:    40,
	}}, time.Second, DefaultMinConfidence)

	p, err := scorer.Score(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.True(t, p.Advisory)
	assert.Equal(t, models.PolicySkipped, p.PolicyStatus)
	assert.Equal(t, models.RiskCritical, p.RiskLevel)
}

func TestScorer_InvalidOutput(t *testing.T) {
	for _, out := range []models.ModelOutput{
		{FailureProbability: 120, ConfidenceScore: 90},
		{FailureProbability: -3, ConfidenceScore: 90},
		{FailureProbability: 40, ConfidenceScore: 150},
	} {
		scorer := NewScorer(fixedModel{out: out}, time.Second, DefaultMinConfidence)
		p, err := scorer.Score(context.Background(), testSnapshot())
		assert.Nil(t, p)
		assert.ErrorIs(t, err, models.ErrInvalidScore)
	}
}

func TestScorer_InvalidSnapshot(t *testing.T) {
	scorer := NewScorer(fixedModel{}, time.Second, DefaultMinConfidence)

	_, err := scorer.Score(context.Background(), models.FeatureSnapshot{CapturedAt: time.Now()})
	assert.ErrorIs(t, err, models.ErrInvalidSnapshot)

	_, err = scorer.Score(context.Background(), models.FeatureSnapshot{AssetID: "A"})
	assert.ErrorIs(t, err, models.ErrInvalidSnapshot)
}

func TestScorer_ModelError(t *testing.T) {
	boom := errors.New("endpoint unavailable")
	scorer := NewScorer(fixedModel{err: boom}, time.Second, DefaultMinConfidence)

	_, err := scorer.Score(context.Background(), testSnapshot())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, models.ErrScoringTimeout)
}

func TestScorer_TimeoutWhenModelHonoursContext(t *testing.T) {
	scorer := NewScorer(blockingModel{}, 20*time.Millisecond, DefaultMinConfidence)

	start := time.Now()
	_, err := scorer.Score(context.Background(), testSnapshot())
	assert.ErrorIs(t, err, models.ErrScoringTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestScorer_TimeoutWhenModelHangs(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	scorer := NewScorer(blockingModel{ignoreCtx: true, release: release}, 20*time.Millisecond, DefaultMinConfidence)

	_, err := scorer.Score(context.Background(), testSnapshot())
	assert.ErrorIs(t, err, models.ErrScoringTimeout)
}

func TestScorer_CallerCancellation(t *testing.T) {
	scorer := NewScorer(blockingModel{}, time.Second, DefaultMinConfidence)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scorer.Score(ctx, testSnapshot())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrScoringTimeout)
}
