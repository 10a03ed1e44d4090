package models

import "time"

// Setting is one key/value row of the pipeline settings table. Values are
// plain strings; list- and map-valued settings store JSON.
type Setting struct {
	Key       string    `json:"key" gorm:"primary_key;column:key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}
