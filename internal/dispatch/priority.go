package dispatch

import "github.com/ukydev/atm-dispatch/internal/models"

// skillPriority holds the distance bonus, in kilometers, per skill and fault.
// The empty fault type is the per-skill default.
var skillPriority = map[models.SkillLevel]map[models.FaultType]float64{
	models.SkillSpecialist: {
		models.FaultCardReaderFailure: 5,
		models.FaultDispenserFailure:  5,
		"":                            3,
	},
	models.SkillSenior: {
		models.FaultCardReaderFailure: 3,
		models.FaultDispenserFailure:  3,
		"":                            2,
	},
	models.SkillJunior: {
		"": 0,
	},
}

// SkillPriority returns the bonus subtracted from an engineer's distance.
// Unknown skill levels get no bonus.
func SkillPriority(skill models.SkillLevel, fault models.FaultType) float64 {
	table, ok := skillPriority[skill]
	if !ok {
		return 0
	}
	if bonus, ok := table[fault]; ok && fault != "" {
		return bonus
	}
	return table[""]
}
