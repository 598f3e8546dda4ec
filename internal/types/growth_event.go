package types

import (
	"time"

	"github.com/google/uuid"
)

// Growth dimensions form a fixed 2x3 grid: self/world crossed with
// knowing, acting and showing.
const (
	GrowthKnowSelf  = "know_self"
	GrowthKnowWorld = "know_world"
	GrowthActSelf   = "act_self"
	GrowthActWorld  = "act_world"
	GrowthShowSelf  = "show_self"
	GrowthShowWorld = "show_world"
)

var GrowthDimensions = map[string]bool{
	GrowthKnowSelf:  true,
	GrowthKnowWorld: true,
	GrowthActSelf:   true,
	GrowthActWorld:  true,
	GrowthShowSelf:  true,
	GrowthShowWorld: true,
}

// GrowthEvent records one qualitative delta along a growth dimension,
// extracted from a conversation.
type GrowthEvent struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Dimension      string    `gorm:"column:dimension;not null;index" json:"dimension"`
	Delta          float64   `gorm:"column:delta;not null" json:"delta"`
	Rationale      string    `gorm:"column:rationale" json:"rationale"`
	CreatedAt      time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (GrowthEvent) TableName() string { return "growth_event" }
