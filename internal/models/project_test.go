package models_test

import (
	"fundchat/backend/internal/models"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestProjectBeforeCreate_GeneratesUUID verifies that the BeforeCreate hook generates a valid UUID.
func TestProjectBeforeCreate_GeneratesUUID(t *testing.T) {
	// Arrange
	project := &models.Project{OwnerAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7", FundingGoal: 100}
	assert.Empty(t, project.ProjectUID)

	// Act
	err := project.BeforeCreate(nil)

	// Assert
	assert.NoError(t, err)
	parsed, parseErr := uuid.Parse(project.ProjectUID)
	assert.NoError(t, parseErr, "ProjectUID must be a valid UUID string")
	assert.NotEqual(t, uuid.Nil, parsed)
}

func TestProjectBeforeCreate_PreservesExistingUID(t *testing.T) {
	project := &models.Project{ProjectUID: "proj-42"}

	err := project.BeforeCreate(nil)

	assert.NoError(t, err)
	assert.Equal(t, "proj-42", project.ProjectUID)
}

func TestProjectDaysUntilExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   int
	}{
		{"expired", now.Add(-time.Hour), 0},
		{"exactly now", now, 0},
		{"partial day rounds up", now.Add(3 * time.Hour), 1},
		{"ten days", now.Add(10 * 24 * time.Hour), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := models.Project{Expiry: tt.expiry}
			assert.Equal(t, tt.want, p.DaysUntilExpiry(now))
		})
	}
}

func TestProjectFundedPercent(t *testing.T) {
	assert.Equal(t, 3.0, (&models.Project{FundingGoal: 100}).FundedPercent(), "nothing raised shows the minimum sliver")
	assert.Equal(t, 25.0, (&models.Project{FundingGoal: 200, AmountRaised: 50}).FundedPercent())
}

func TestProjectEffectiveFreezeThreshold(t *testing.T) {
	assert.Equal(t, 5, (&models.Project{}).EffectiveFreezeThreshold(5))
	assert.Equal(t, 9, (&models.Project{FreezeThreshold: 9}).EffectiveFreezeThreshold(5))
}

// TestProjectStructTags guards the wire names the web client depends on.
func TestProjectStructTags(t *testing.T) {
	projectType := reflect.TypeOf(models.Project{})

	uidField, found := projectType.FieldByName("ProjectUID")
	assert.True(t, found)
	assert.Contains(t, uidField.Tag.Get("gorm"), "primaryKey")
	assert.Equal(t, "projectuid", uidField.Tag.Get("json"))

	ownerField, found := projectType.FieldByName("OwnerAddress")
	assert.True(t, found)
	assert.Equal(t, "ownerstacksaddress", ownerField.Tag.Get("json"))

	creditType := reflect.TypeOf(models.FundCredit{})
	txField, found := creditType.FieldByName("TxID")
	assert.True(t, found)
	assert.Contains(t, txField.Tag.Get("gorm"), "primaryKey", "TxID keys the idempotent credit")
}

func TestRecordIsVote(t *testing.T) {
	assert.True(t, models.Record{Kind: models.KindVote, Voter: "pk"}.IsVote())
	assert.False(t, models.Record{Text: "hello"}.IsVote())
	assert.False(t, models.Record{Kind: models.KindMessage, Text: "hello"}.IsVote())
}
