package models

// PatchQuality is the vibe rating the discovery service assigns a patch.
type PatchQuality string

const (
	PatchQualityPristine     PatchQuality = "pristine"
	PatchQualityDecent       PatchQuality = "decent"
	PatchQualityQuestionable PatchQuality = "questionable"
	PatchQualitySus          PatchQuality = "sus"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GrassPatch is a candidate real-world location surfaced for swiping.
// Patches are produced per session by the discovery collaborator and are not
// persisted on their own — challenges snapshot the fields they need.
type GrassPatch struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Latitude        float64      `json:"latitude"`
	Longitude       float64      `json:"longitude"`
	Address         string       `json:"address"`
	DistanceMeters  float64      `json:"distance_meters"` // from the user at discovery time
	Difficulty      int          `json:"difficulty"`      // 1–5
	Quality         PatchQuality `json:"quality"`
	WalkTimeMinutes int          `json:"walk_time_minutes"`
	Description     string       `json:"description"` // AI flavor text, cosmetic only
}

// Location returns the patch coordinate.
func (p *GrassPatch) Location() Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}
