// Package service holds the carbon sink registry and the event buses that
// carry changes to the browser.
package service

import (
	"time"

	"github.com/joeblew999/forest-sync/internal/geometry"
)

// CarbonSink is one planted parcel as published in the registry feed.
// Huma reads the tags for OpenAPI; the validator reads validate.
type CarbonSink struct {
	ID            string              `json:"id" validate:"required" minLength:"1" doc:"Sink identifier" example:"c5e6bc75-aa93-41e3-9899-f1de5222e564"`
	Name          string              `json:"name" validate:"required" minLength:"1" doc:"Display name" example:"Aberdeen 6 wood"`
	Owner         string              `json:"owner" validate:"required" minLength:"1" doc:"Owner name" example:"Sophia Mitchell"`
	OwnerID       string              `json:"ownerID" validate:"required" minLength:"1" doc:"Owner identifier" example:"0b7e5e0e-5f21-4cbb-9fa3-2b8ec0ef4a4b"`
	Country       string              `json:"country" validate:"required" minLength:"1" doc:"Country" example:"UK"`
	SizeHa        float64             `json:"sizeHa" validate:"gte=0" minimum:"0" doc:"Registered size in hectares" example:"2.7"`
	PlantedDate   int                 `json:"plantedDate" validate:"gte=0" minimum:"0" doc:"Planting date as spreadsheet serial day" example:"43840"`
	CO2StoredTons *float64            `json:"CO2storedTons,omitempty" validate:"omitempty,gte=0" minimum:"0" doc:"Amount of CO2 stored in tons" example:"108"`
	Geolocation   geometry.GeoPoint   `json:"geolocation" doc:"Representative location"`
	Polygon       geometry.Polygon    `json:"polygon,omitempty" validate:"omitempty,dive" doc:"Parcel boundary"`
}

// Planted returns the planting date in local time.
func (s CarbonSink) Planted() time.Time {
	return geometry.SerialDayToDate(s.PlantedDate)
}

// CO2 returns the stored CO2, or the estimate from size and planting year.
func (s CarbonSink) CO2(now time.Time) float64 {
	return geometry.StoredOrEstimated(s.CO2StoredTons, s.SizeHa, s.Planted(), now)
}

// Owner is a landowner.
type Owner struct {
	ID      string `json:"id" validate:"required" minLength:"1" doc:"Owner identifier" example:"0b7e5e0e-5f21-4cbb-9fa3-2b8ec0ef4a4b"`
	Name    string `json:"name" validate:"required" minLength:"1" doc:"Owner name" example:"Sophia Mitchell"`
	Country string `json:"country" validate:"required" minLength:"1" doc:"Country" example:"UK"`
}

// Snapshot is one complete read of the feed.
type Snapshot struct {
	CarbonSinks []CarbonSink `json:"carbonSinks"`
	Owners      []Owner      `json:"owners"`
	FetchedAt   time.Time    `json:"fetchedAt"`
}
