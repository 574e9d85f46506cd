package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AudienceMonitor = "monitor"
	AudienceClient  = "client"
	AudienceAdmin   = "admin"
	AudienceSupport = "support"
)

type Announcement struct {
	BaseModel

	Title       string                      `json:"title"`
	Body        string                      `json:"body"`
	Category    string                      `json:"category"`
	Audience    datatypes.JSONSlice[string] `json:"audience"`
	PublishedAt time.Time                   `json:"published_at"`
}

type FaqItem struct {
	BaseModel

	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category" gorm:"index"`
}
