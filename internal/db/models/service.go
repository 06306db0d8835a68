// Package models - service.go defines the catalogue of backend services an API key can call.
package models

import "time"

// Service is an entry of the service catalogue
type Service struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	DisplayName     string    `db:"display_name" json:"displayName"`
	Description     *string   `db:"description" json:"description"`
	BaseCostPerCall int       `db:"base_cost_per_call" json:"baseCostPerCall"`
	Icon            *string   `db:"icon" json:"icon"`
	Category        string    `db:"category" json:"category"`
	IsActive        bool      `db:"is_active" json:"isActive"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}
