package models

import "time"

// NoModel is stored when an agent row is created without a model.
const NoModel = "NO MODEL"

// Agent is the persisted record of an agent session. Cost and token
// counters only ever grow.
type Agent struct {
	ID           string    `gorm:"primaryKey;size:128" json:"id"`
	ProjectID    uint      `gorm:"not null;index" json:"projectId"`
	AgentType    string    `gorm:"size:32;index" json:"agentType"`
	Model        string    `gorm:"size:64;default:'NO MODEL'" json:"model"`
	FirstName    string    `gorm:"size:64" json:"firstName"`
	LastName     string    `gorm:"size:64" json:"lastName"`
	Cost         float64   `gorm:"not null;default:0" json:"cost"`
	InputTokens  int64     `gorm:"not null;default:0" json:"inputTokens"`
	OutputTokens int64     `gorm:"not null;default:0" json:"outputTokens"`
	CreatedAt    time.Time `json:"createdAt"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"-"`
}
