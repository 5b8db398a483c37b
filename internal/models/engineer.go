package models

import "time"

// SkillLevel grades a field engineer.
type SkillLevel string

const (
	SkillJunior     SkillLevel = "junior"
	SkillSenior     SkillLevel = "senior"
	SkillSpecialist SkillLevel = "specialist"
)

// Engineer represents a field engineer who can be dispatched to ATMs.
type Engineer struct {
	EngineerID      string     `bson:"engineer_id" json:"engineer_id"`
	Name            string     `bson:"name" json:"name"`
	Phone           string     `bson:"phone" json:"phone"`
	Email           string     `bson:"email" json:"email"`
	Location        Location   `bson:"location" json:"location"`
	SkillLevel      SkillLevel `bson:"skill_level" json:"skill_level"`
	Available       bool       `bson:"available" json:"available"`
	CurrentWorkload int        `bson:"current_workload" json:"current_workload"`
	Certification   string     `bson:"certification,omitempty" json:"certification,omitempty"`
	RegisteredAt    time.Time  `bson:"registered_at" json:"registered_at"`
}

// IsValidSkillLevel checks if a skill level is valid
func IsValidSkillLevel(s SkillLevel) bool {
	switch s {
	case SkillJunior, SkillSenior, SkillSpecialist:
		return true
	default:
		return false
	}
}
