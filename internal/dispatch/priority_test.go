package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ukydev/atm-dispatch/internal/models"
)

func TestSkillPriority(t *testing.T) {
	tests := []struct {
		skill    models.SkillLevel
		fault    models.FaultType
		expected float64
	}{
		{models.SkillSpecialist, models.FaultCardReaderFailure, 5},
		{models.SkillSpecialist, models.FaultDispenserFailure, 5},
		{models.SkillSpecialist, models.FaultNetworkOffline, 3},
		{models.SkillSpecialist, "SOMETHING_NEW", 3},
		{models.SkillSenior, models.FaultCardReaderFailure, 3},
		{models.SkillSenior, models.FaultDispenserFailure, 3},
		{models.SkillSenior, models.FaultCashOut, 2},
		{models.SkillJunior, models.FaultCardReaderFailure, 0},
		{models.SkillJunior, "anything", 0},
		{"apprentice", models.FaultCardReaderFailure, 0},
		{"", "", 0},
		{models.SkillSenior, "", 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.skill)+"/"+string(tt.fault), func(t *testing.T) {
			assert.Equal(t, tt.expected, SkillPriority(tt.skill, tt.fault))
		})
	}
}
