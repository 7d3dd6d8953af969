package models

import "time"

// Project groups agents and their accumulated usage.
type Project struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`

	Agents []Agent `gorm:"foreignKey:ProjectID" json:"agents,omitempty"`
}
