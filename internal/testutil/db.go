// Package testutil provides database fixtures for package tests
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/database"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Actor is the staff member used by service tests
var Actor = domain.ActorContext{ID: "staff-1", Name: "Test Staff"}

// SetupTestDB opens a private in-memory SQLite database with the engine
// schema. The pool is limited to one connection so transactions see a
// consistent database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateTestLead inserts an unconverted lead at stage "new"
func CreateTestLead(t *testing.T, db *gorm.DB, company, email string) *domain.Lead {
	t.Helper()
	lead := &domain.Lead{
		CompanyName:  company,
		ContactName:  "Sara Contact",
		ContactEmail: email,
		ContactPhone: "+4790000000",
		Stage:        domain.LeadStageNew,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(lead).Error)
	return lead
}

// CreateTestAccount inserts an inactive prospect account
func CreateTestAccount(t *testing.T, db *gorm.DB, name, email string) *domain.Organization {
	t.Helper()
	org := &domain.Organization{
		Name:               name,
		ContactEmail:       email,
		LifecycleStage:     domain.LifecycleProspect,
		SubscriptionStatus: domain.SubscriptionNone,
	}
	require.NoError(t, db.Create(org).Error)
	return org
}

// CreateTestOpportunity inserts an open opportunity at the given stage
func CreateTestOpportunity(t *testing.T, db *gorm.DB, name string, stage domain.OpportunityStage, accountID *uuid.UUID) *domain.Opportunity {
	t.Helper()
	opp := &domain.Opportunity{
		Name:          name,
		AccountID:     accountID,
		Stage:         stage,
		Status:        domain.OpportunityStatusOpen,
		Probability:   stage.Probability(),
		ExpectedValue: 10000,
	}
	require.NoError(t, db.Create(opp).Error)
	return opp
}

// CreateAcceptedQuote inserts an accepted quote whose stepper sits at client approval
func CreateAcceptedQuote(t *testing.T, db *gorm.DB, opportunityID uuid.UUID, accountID *uuid.UUID, amount float64) *domain.Quote {
	t.Helper()
	quote := &domain.Quote{
		OpportunityID: opportunityID,
		AccountID:     accountID,
		Title:         "Annual subscription",
		Status:        domain.QuoteStatusAccepted,
		TotalAmount:   amount,
		FinancialStep: domain.StepClientApproval,
	}
	require.NoError(t, db.Create(quote).Error)
	return quote
}
