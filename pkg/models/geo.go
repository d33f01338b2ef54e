package models

import "encoding/json"

// Location is one geocoding candidate, ranked by the provider.
type Location struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	City    string  `json:"city"`
	State   string  `json:"state"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Type    string  `json:"type"`
}

// Coordinate is a [lng, lat] pair as used by GeoJSON.
type Coordinate [2]float64

// BandStats summarizes one vegetation index over a farm polygon.
type BandStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// VegetationStats holds the indices the dashboard displays.
type VegetationStats struct {
	NDVI     *BandStats `json:"ndvi,omitempty"`
	SAVI     *BandStats `json:"savi,omitempty"`
	Moisture *BandStats `json:"moisture,omitempty"`
	LAI      *BandStats `json:"lai,omitempty"`
}

// VegetationSample is one interval of a vegetation history series.
type VegetationSample struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Stats VegetationStats `json:"stats"`
}

// Verification is the compute server's verdict on a crop-cycle milestone.
type Verification struct {
	Status            string          `json:"status"`
	Verdict           string          `json:"verdict"`
	OverallConfidence float64         `json:"overall_confidence"`
	Recommendation    string          `json:"recommendation,omitempty"`
	Report            json.RawMessage `json:"report,omitempty"`
}
