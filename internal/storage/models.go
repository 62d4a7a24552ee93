package storage

import (
	"sort"
	"time"
)

type Links struct {
	Self string `json:"self"`
}

// FeedResponse is the payload of the NeoWs feed endpoint.
type FeedResponse struct {
	Links            Links                        `json:"links"`
	ElementCount     int                          `json:"element_count"`
	NearEarthObjects map[string][]NearEarthObject `json:"near_earth_objects"`
}

type NearEarthObject struct {
	Links                  Links                `json:"links"`
	ID                     string               `json:"id"`
	NeoReferenceID         string               `json:"neo_reference_id"`
	Name                   string               `json:"name"`
	NasaJPLURL             string               `json:"nasa_jpl_url"`
	AbsoluteMagnitudeH     float64              `json:"absolute_magnitude_h"`
	EstimatedDiameter      EstimatedDiameter    `json:"estimated_diameter"`
	IsPotentiallyHazardous bool                 `json:"is_potentially_hazardous_asteroid"`
	CloseApproachData      []CloseApproachEvent `json:"close_approach_data"`
	IsSentryObject         bool                 `json:"is_sentry_object"`
	OrbitalData            *OrbitalData         `json:"orbital_data,omitempty"`
}

type DiameterRange struct {
	Min float64 `json:"estimated_diameter_min"`
	Max float64 `json:"estimated_diameter_max"`
}

type EstimatedDiameter struct {
	Kilometers DiameterRange `json:"kilometers"`
	Meters     DiameterRange `json:"meters"`
	Miles      DiameterRange `json:"miles"`
	Feet       DiameterRange `json:"feet"`
}

type CloseApproachEvent struct {
	CloseApproachDate      string           `json:"close_approach_date"`
	CloseApproachDateFull  string           `json:"close_approach_date_full"`
	EpochDateCloseApproach int64            `json:"epoch_date_close_approach"`
	RelativeVelocity       RelativeVelocity `json:"relative_velocity"`
	MissDistance           MissDistance     `json:"miss_distance"`
	OrbitingBody           string           `json:"orbiting_body"`
}

type RelativeVelocity struct {
	KilometersPerSecond string `json:"kilometers_per_second"`
	KilometersPerHour   string `json:"kilometers_per_hour"`
	MilesPerHour        string `json:"miles_per_hour"`
}

type MissDistance struct {
	Astronomical string `json:"astronomical"`
	Lunar        string `json:"lunar"`
	Kilometers   string `json:"kilometers"`
	Miles        string `json:"miles"`
}

type OrbitalData struct {
	OrbitID                   string     `json:"orbit_id"`
	OrbitDeterminationDate    string     `json:"orbit_determination_date"`
	FirstObservationDate      string     `json:"first_observation_date"`
	LastObservationDate       string     `json:"last_observation_date"`
	DataArcInDays             int        `json:"data_arc_in_days"`
	ObservationsUsed          int        `json:"observations_used"`
	OrbitUncertainty          string     `json:"orbit_uncertainty"`
	MinimumOrbitIntersection  string     `json:"minimum_orbit_intersection"`
	JupiterTisserandInvariant string     `json:"jupiter_tisserand_invariant"`
	EpochOsculation           string     `json:"epoch_osculation"`
	Eccentricity              string     `json:"eccentricity"`
	SemiMajorAxis             string     `json:"semi_major_axis"`
	Inclination               string     `json:"inclination"`
	AscendingNodeLongitude    string     `json:"ascending_node_longitude"`
	OrbitalPeriod             string     `json:"orbital_period"`
	PerihelionDistance        string     `json:"perihelion_distance"`
	PerihelionArgument        string     `json:"perihelion_argument"`
	AphelionDistance          string     `json:"aphelion_distance"`
	PerihelionTime            string     `json:"perihelion_time"`
	MeanAnomaly               string     `json:"mean_anomaly"`
	MeanMotion                string     `json:"mean_motion"`
	Equinox                   string     `json:"equinox"`
	OrbitClass                OrbitClass `json:"orbit_class"`
}

type OrbitClass struct {
	Type        string `json:"orbit_class_type"`
	Description string `json:"orbit_class_description"`
	Range       string `json:"orbit_class_range"`
}

// NEODetail is the payload of the NeoWs lookup endpoint. Only the orbital
// block is consumed; the remaining fields duplicate the feed record.
type NEODetail struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	OrbitalData *OrbitalData `json:"orbital_data"`
}

// RateLimit holds the X-RateLimit-* headers of the last upstream response.
type RateLimit struct {
	Limit      string    `json:"limit"`
	Remaining  string    `json:"remaining"`
	ObservedAt time.Time `json:"observed_at"`
}

// Snapshot is one archived day of enriched feed data.
type Snapshot struct {
	Date      string       `json:"date"`
	FetchedAt time.Time    `json:"fetched_at"`
	Enriched  int          `json:"enriched"`
	Data      FeedResponse `json:"data"`
}

// DateKeys returns the keys of NearEarthObjects in ascending order.
func (r *FeedResponse) DateKeys() []string {
	keys := make([]string, 0, len(r.NearEarthObjects))
	for k := range r.NearEarthObjects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FirstKey returns the first date key, or "" when there are none.
func (r *FeedResponse) FirstKey() string {
	keys := r.DateKeys()
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// Clone copies the response deeply enough that the object lists of the
// copy can be modified without touching r. OrbitalData blocks are shared;
// they are replaced, never mutated.
func (r *FeedResponse) Clone() *FeedResponse {
	if r == nil {
		return nil
	}
	out := &FeedResponse{
		Links:            r.Links,
		ElementCount:     r.ElementCount,
		NearEarthObjects: make(map[string][]NearEarthObject, len(r.NearEarthObjects)),
	}
	for date, objs := range r.NearEarthObjects {
		cp := make([]NearEarthObject, len(objs))
		copy(cp, objs)
		out.NearEarthObjects[date] = cp
	}
	return out
}

// Find looks an object up by id across all dates.
func (r *FeedResponse) Find(id string) (*NearEarthObject, bool) {
	for _, date := range r.DateKeys() {
		objs := r.NearEarthObjects[date]
		for i := range objs {
			if objs[i].ID == id {
				return &objs[i], true
			}
		}
	}
	return nil, false
}

// CountEnriched reports how many objects carry orbital data.
func (r *FeedResponse) CountEnriched() int {
	n := 0
	for _, objs := range r.NearEarthObjects {
		for i := range objs {
			if objs[i].OrbitalData != nil {
				n++
			}
		}
	}
	return n
}

// NextApproach returns the first close approach of the object, if any.
func (n *NearEarthObject) NextApproach() (CloseApproachEvent, bool) {
	if len(n.CloseApproachData) == 0 {
		return CloseApproachEvent{}, false
	}
	return n.CloseApproachData[0], true
}
