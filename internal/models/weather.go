package models

import "encoding/json"

// Location is a geocoder match. Latitude and Longitude keep the provider's
// text so they reach the weather query unchanged.
type Location struct {
	Query       string `json:"query"`
	DisplayName string `json:"displayName"`
	Latitude    string `json:"lat"`
	Longitude   string `json:"lon"`
}

// Weather is the current-conditions block rendered on the weather tab.
// Temp keeps the provider's number literal so 25.0 renders as 25.0.
type Weather struct {
	City        string      `json:"city"`
	Temp        json.Number `json:"temp"`
	Humidity    int         `json:"humidity"`
	Description string      `json:"description"`
}
