package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/service"
	"github.com/straye-as/salesflow-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadService_Create(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()

	t.Run("stores lead at stage new with history", func(t *testing.T) {
		lead, err := env.lead.Create(ctx, testutil.Actor, &domain.CreateLeadRequest{
			CompanyName:  "  Acme ",
			ContactName:  "Sara",
			ContactEmail: "sara@acme.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "Acme", lead.CompanyName)
		assert.Equal(t, domain.LeadStageNew, lead.Stage)
		assert.False(t, lead.IsConverted)

		var transitions []domain.StageTransition
		require.NoError(t, env.db.Where("entity_id = ?", lead.ID).Find(&transitions).Error)
		require.Len(t, transitions, 1)
		assert.Nil(t, transitions[0].FromStage)
		assert.Equal(t, string(domain.LeadStageNew), transitions[0].ToStage)
		assert.Equal(t, testutil.Actor.ID, transitions[0].PerformedBy)
	})

	t.Run("rejects missing contact fields", func(t *testing.T) {
		_, err := env.lead.Create(ctx, testutil.Actor, &domain.CreateLeadRequest{CompanyName: "Acme"})
		assert.ErrorIs(t, err, service.ErrValidation)
	})

	t.Run("rejects anonymous actor", func(t *testing.T) {
		_, err := env.lead.Create(ctx, domain.ActorContext{}, &domain.CreateLeadRequest{
			CompanyName: "Acme", ContactName: "Sara", ContactEmail: "sara@acme.com",
		})
		assert.ErrorIs(t, err, service.ErrValidation)
	})
}

func TestLeadService_Convert(t *testing.T) {
	ctx := context.Background()

	t.Run("creates inactive account and first-stage opportunity", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		lead := testutil.CreateTestLead(t, env.db, "Acme", "sara@acme.com")

		oppID, err := env.lead.Convert(ctx, testutil.Actor, lead.ID, &domain.ConvertLeadRequest{
			DealName:      "Acme website",
			ServiceType:   "subscription",
			ExpectedValue: 15000,
		})
		require.NoError(t, err)

		opp, err := env.opps.GetByID(ctx, oppID)
		require.NoError(t, err)
		assert.Equal(t, domain.StageNewOpportunity, opp.Stage)
		assert.Equal(t, domain.OpportunityStatusOpen, opp.Status)
		assert.Equal(t, 20, opp.Probability)
		assert.Equal(t, 15000.0, opp.ExpectedValue)
		require.NotNil(t, opp.LeadID)
		assert.Equal(t, lead.ID, *opp.LeadID)
		require.NotNil(t, opp.AccountID)

		account, err := env.orgs.GetByID(ctx, *opp.AccountID)
		require.NoError(t, err)
		assert.Equal(t, "Acme", account.Name)
		assert.Equal(t, "subscription", account.CustomerType)
		assert.False(t, account.IsActive)
		assert.Equal(t, domain.LifecycleProspect, account.LifecycleStage)
		assert.Equal(t, "sara@acme.com", account.ContactEmail)

		converted, err := env.leads.GetByID(ctx, lead.ID)
		require.NoError(t, err)
		assert.True(t, converted.IsConverted)
		assert.Equal(t, domain.LeadStageConverted, converted.Stage)
		require.NotNil(t, converted.ConvertedToAccountID)
		assert.Equal(t, account.ID, *converted.ConvertedToAccountID)
		assert.NotNil(t, converted.ConvertedAt)
	})

	t.Run("invalid input creates nothing", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		lead := testutil.CreateTestLead(t, env.db, "Acme", "sara@acme.com")

		for _, req := range []*domain.ConvertLeadRequest{
			{DealName: "   ", ExpectedValue: 1000},
			{DealName: "Acme website", ExpectedValue: 0},
			{DealName: "Acme website", ExpectedValue: -5},
		} {
			_, err := env.lead.Convert(ctx, testutil.Actor, lead.ID, req)
			assert.ErrorIs(t, err, service.ErrValidation)
		}

		assert.Zero(t, env.countRows(t, &domain.Opportunity{}))
		assert.Zero(t, env.countRows(t, &domain.Organization{}))
		reloaded, err := env.leads.GetByID(ctx, lead.ID)
		require.NoError(t, err)
		assert.False(t, reloaded.IsConverted)
	})

	t.Run("second conversion is rejected", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		lead := testutil.CreateTestLead(t, env.db, "Acme", "sara@acme.com")
		req := &domain.ConvertLeadRequest{DealName: "Acme website", ExpectedValue: 1000}

		_, err := env.lead.Convert(ctx, testutil.Actor, lead.ID, req)
		require.NoError(t, err)

		_, err = env.lead.Convert(ctx, testutil.Actor, lead.ID, req)
		assert.ErrorIs(t, err, service.ErrInvalidState)
		assert.Equal(t, int64(1), env.countRows(t, &domain.Opportunity{}))
		assert.Equal(t, int64(1), env.countRows(t, &domain.Organization{}))
	})

	t.Run("unknown lead", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		_, err := env.lead.Convert(ctx, testutil.Actor, uuid.New(), &domain.ConvertLeadRequest{DealName: "X", ExpectedValue: 1})
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestLeadService_Update(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()

	lead := testutil.CreateTestLead(t, env.db, "Acme", "sara@acme.com")

	notes := "called twice"
	updated, err := env.lead.Update(ctx, testutil.Actor, lead.ID, &domain.UpdateLeadRequest{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)

	_, err = env.lead.Convert(ctx, testutil.Actor, lead.ID, &domain.ConvertLeadRequest{DealName: "Acme website", ExpectedValue: 500})
	require.NoError(t, err)

	t.Run("identity is frozen after conversion", func(t *testing.T) {
		company := "Other Corp"
		_, err := env.lead.Update(ctx, testutil.Actor, lead.ID, &domain.UpdateLeadRequest{CompanyName: &company})
		assert.ErrorIs(t, err, service.ErrInvalidState)

		reloaded, err := env.leads.GetByID(ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, "Acme", reloaded.CompanyName)
	})

	t.Run("unchanged identity and other fields are accepted", func(t *testing.T) {
		company := "Acme"
		source := "referral"
		updated, err := env.lead.Update(ctx, testutil.Actor, lead.ID, &domain.UpdateLeadRequest{CompanyName: &company, LeadSource: &source})
		require.NoError(t, err)
		assert.Equal(t, "referral", updated.LeadSource)
		assert.True(t, updated.IsConverted)
	})
}

func TestLeadService_ChangeStage(t *testing.T) {
	env := setupServices(t, service.DefaultPolicy())
	ctx := context.Background()
	lead := testutil.CreateTestLead(t, env.db, "Acme", "sara@acme.com")

	updated, err := env.lead.ChangeStage(ctx, testutil.Actor, lead.ID, &domain.ChangeLeadStageRequest{Stage: domain.LeadStageContacted})
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStageContacted, updated.Stage)

	tests := []struct {
		name  string
		stage domain.LeadStage
	}{
		{"same stage", domain.LeadStageContacted},
		{"converted is reserved", domain.LeadStageConverted},
		{"unknown stage", domain.LeadStage("archived")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.lead.ChangeStage(ctx, testutil.Actor, lead.ID, &domain.ChangeLeadStageRequest{Stage: tt.stage})
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}

	var transitions []domain.StageTransition
	require.NoError(t, env.db.Where("entity_id = ? AND to_stage = ?", lead.ID, domain.LeadStageContacted).Find(&transitions).Error)
	require.Len(t, transitions, 1)
	require.NotNil(t, transitions[0].FromStage)
	assert.Equal(t, string(domain.LeadStageNew), *transitions[0].FromStage)
}

func TestLeadService_Intake(t *testing.T) {
	ctx := context.Background()
	submission := func(phone string) *domain.IntakeLeadRequest {
		return &domain.IntakeLeadRequest{
			CreateLeadRequest: domain.CreateLeadRequest{
				CompanyName:  "Acme",
				ContactName:  "Sara",
				ContactEmail: "Sara@Acme.com",
				ContactPhone: phone,
				LeadSource:   "website",
			},
			Message: "Please call me",
		}
	}

	t.Run("repeat submission adds a note to the open lead", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())

		first, created, err := env.lead.Intake(ctx, testutil.Actor, submission(""))
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := env.lead.Intake(ctx, testutil.Actor, submission("+4791111111"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Empty(t, second.ContactPhone)
		assert.Equal(t, 2, strings.Count(second.Notes, "inbound via website"))
		assert.Equal(t, int64(1), env.countRows(t, &domain.Lead{}))
	})

	t.Run("merge mode fills empty fields", func(t *testing.T) {
		policy := service.DefaultPolicy()
		policy.LeadRediscovery = service.RediscoveryMerge
		env := setupServices(t, policy)

		_, _, err := env.lead.Intake(ctx, testutil.Actor, submission(""))
		require.NoError(t, err)
		second, created, err := env.lead.Intake(ctx, testutil.Actor, submission("+4791111111"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "+4791111111", second.ContactPhone)
	})

	t.Run("converted lead is not reused", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		lead := testutil.CreateTestLead(t, env.db, "Acme", "sara@acme.com")
		_, err := env.lead.Convert(ctx, testutil.Actor, lead.ID, &domain.ConvertLeadRequest{DealName: "Acme", ExpectedValue: 1})
		require.NoError(t, err)

		fresh, created, err := env.lead.Intake(ctx, testutil.Actor, submission(""))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, lead.ID, fresh.ID)
	})
}

func TestLeadService_Delete(t *testing.T) {
	ctx := context.Background()
	convertedLead := func(t *testing.T, env *testEnv) *domain.Lead {
		lead := testutil.CreateTestLead(t, env.db, "Acme", "sara@acme.com")
		_, err := env.lead.Convert(ctx, testutil.Actor, lead.ID, &domain.ConvertLeadRequest{DealName: "Acme", ExpectedValue: 1})
		require.NoError(t, err)
		return lead
	}

	t.Run("converted lead is deletable by default and opportunity survives", func(t *testing.T) {
		env := setupServices(t, service.DefaultPolicy())
		lead := convertedLead(t, env)

		require.NoError(t, env.lead.Delete(ctx, testutil.Actor, lead.ID))
		_, err := env.lead.GetByID(ctx, lead.ID)
		assert.ErrorIs(t, err, service.ErrNotFound)
		assert.Equal(t, int64(1), env.countRows(t, &domain.Opportunity{}))
	})

	t.Run("policy can protect converted leads", func(t *testing.T) {
		policy := service.DefaultPolicy()
		policy.AllowDeleteConvertedLeads = false
		env := setupServices(t, policy)
		lead := convertedLead(t, env)

		err := env.lead.Delete(ctx, testutil.Actor, lead.ID)
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})
}
