package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/repository"
	"github.com/straye-as/salesflow-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpportunityRepository_UpdateChecksVersion(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewOpportunityRepository(db)
	ctx := context.Background()

	opp := testutil.CreateTestOpportunity(t, db, "Acme rollout", domain.StageNewOpportunity, nil)
	require.Equal(t, 1, opp.Version)

	stale, err := repo.GetByID(ctx, opp.ID)
	require.NoError(t, err)

	opp.Probability = 40
	require.NoError(t, repo.Update(ctx, opp))
	assert.Equal(t, 2, opp.Version)

	stale.Probability = 10
	err = repo.Update(ctx, stale)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assert.Equal(t, 1, stale.Version)

	reloaded, err := repo.GetByID(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, reloaded.Probability)
	assert.Equal(t, 2, reloaded.Version)
}

func TestQuoteRepository_FindOpenAndLinkAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewQuoteRepository(db)
	ctx := context.Background()

	opp := testutil.CreateTestOpportunity(t, db, "Acme rollout", domain.StageProposalSent, nil)

	_, err := repo.FindOpenByOpportunity(ctx, opp.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	expired := &domain.Quote{OpportunityID: opp.ID, Title: "Old", Status: domain.QuoteStatusExpired}
	require.NoError(t, repo.Create(ctx, expired))
	draft := &domain.Quote{OpportunityID: opp.ID, Title: "Current", Status: domain.QuoteStatusDraft}
	require.NoError(t, repo.Create(ctx, draft))

	open, err := repo.FindOpenByOpportunity(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, open.ID)

	account := testutil.CreateTestAccount(t, db, "Acme", "billing@acme.com")
	linked, err := repo.LinkAccount(ctx, opp.ID, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), linked)

	linked, err = repo.LinkAccount(ctx, opp.ID, account.ID)
	require.NoError(t, err)
	assert.Zero(t, linked)
}

func TestLeadRepository_MarkConvertedOnlyOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewLeadRepository(db)
	ctx := context.Background()

	lead := testutil.CreateTestLead(t, db, "Acme", "a@acme.com")
	accountID, oppID := uuid.New(), uuid.New()

	require.NoError(t, repo.MarkConverted(ctx, lead.ID, accountID, oppID, time.Now().UTC()))
	err := repo.MarkConverted(ctx, lead.ID, uuid.New(), uuid.New(), time.Now().UTC())
	assert.ErrorIs(t, err, repository.ErrConditionFailed)

	reloaded, err := repo.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsConverted)
	assert.Equal(t, domain.LeadStageConverted, reloaded.Stage)
	require.NotNil(t, reloaded.ConvertedToAccountID)
	assert.Equal(t, accountID, *reloaded.ConvertedToAccountID)
}

func TestLeadRepository_FindOpenByEmailIgnoresConverted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewLeadRepository(db)
	ctx := context.Background()

	lead := testutil.CreateTestLead(t, db, "Acme", "a@acme.com")

	found, err := repo.FindOpenByEmail(ctx, "  A@Acme.com ")
	require.NoError(t, err)
	assert.Equal(t, lead.ID, found.ID)

	require.NoError(t, repo.MarkConverted(ctx, lead.ID, uuid.New(), uuid.New(), time.Now().UTC()))
	_, err = repo.FindOpenByEmail(ctx, "a@acme.com")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestOrganizationRepository_SourceKeyIsUnique(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewOrganizationRepository(db)
	ctx := context.Background()

	sourceID := uuid.New()
	first := &domain.Organization{
		Name:               "Acme",
		LifecycleStage:     domain.LifecycleProspect,
		SubscriptionStatus: domain.SubscriptionNone,
		SourceType:         domain.AccountSourceOpportunity,
		SourceID:           &sourceID,
	}
	require.NoError(t, repo.Create(ctx, first))

	found, err := repo.GetBySource(ctx, domain.AccountSourceOpportunity, sourceID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	duplicate := &domain.Organization{
		Name:               "Acme again",
		LifecycleStage:     domain.LifecycleProspect,
		SubscriptionStatus: domain.SubscriptionNone,
		SourceType:         domain.AccountSourceOpportunity,
		SourceID:           &sourceID,
	}
	assert.Error(t, repo.Create(ctx, duplicate))
}

func TestAuditRecords_AreAppendOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	transitions := repository.NewStageTransitionRepository(db)
	activities := repository.NewActivityRepository(db)
	ctx := context.Background()

	entityID := uuid.New()
	transition := &domain.StageTransition{
		EntityType:   domain.EntityOpportunity,
		EntityID:     entityID,
		PipelineType: domain.PipelineSales,
		ToStage:      string(domain.StageMeetingScheduled),
		PerformedBy:  "staff-1",
	}
	require.NoError(t, transitions.Create(ctx, transition))

	transition.Notes = "rewritten"
	assert.ErrorIs(t, db.Save(transition).Error, domain.ErrImmutableRecord)
	assert.ErrorIs(t, db.Delete(transition).Error, domain.ErrImmutableRecord)

	activity := &domain.Activity{
		OpportunityID: entityID,
		ActivityType:  domain.ActivityStageNote,
		Title:         "Stage changed",
		Metadata:      `{"note":"x"}`,
		PerformedBy:   "staff-1",
	}
	require.NoError(t, activities.Create(ctx, activity))
	assert.ErrorIs(t, db.Model(activity).Update("title", "changed").Error, domain.ErrImmutableRecord)
	assert.ErrorIs(t, db.Delete(activity).Error, domain.ErrImmutableRecord)

	count, err := transitions.CountTo(ctx, domain.EntityOpportunity, entityID, string(domain.StageMeetingScheduled))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	list, err := activities.ListByOpportunity(ctx, entityID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Stage changed", list[0].Title)
}
