package models

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat     float64 `bson:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `bson:"lng" json:"lng" validate:"gte=-180,lte=180"`
	Address string  `bson:"address,omitempty" json:"address,omitempty"`
}
