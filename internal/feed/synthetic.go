package feed

import (
	"strings"
	"time"

	"github.com/pders01/neows/internal/storage"
)

// ApproachLayout is the NeoWs close_approach_date_full format.
const ApproachLayout = "2006-Jan-02 15:04"

// SyntheticOffsets are the approach times of the injected test objects,
// relative to load time.
var SyntheticOffsets = [3]time.Duration{60 * time.Second, 120 * time.Second, 250 * time.Second}

type syntheticSeed struct {
	id, name, jplURL string
	magnitude        float64
	diameter         storage.EstimatedDiameter
	hazardous        bool
	velocity         storage.RelativeVelocity
	miss             storage.MissDistance
	orbit            storage.OrbitalData
}

var syntheticSeeds = [3]syntheticSeed{
	{
		id:        "test-neo-1",
		name:      "Test NEO",
		jplURL:    "https://example.com/test",
		magnitude: 20.5,
		diameter: storage.EstimatedDiameter{
			Kilometers: storage.DiameterRange{Min: 0.2, Max: 0.45},
			Meters:     storage.DiameterRange{Min: 200, Max: 450},
			Miles:      storage.DiameterRange{Min: 0.1242, Max: 0.2795},
			Feet:       storage.DiameterRange{Min: 656.1, Max: 1476.4},
		},
		hazardous: true,
		velocity:  storage.RelativeVelocity{KilometersPerSecond: "25.3", KilometersPerHour: "91080", MilesPerHour: "56593.4"},
		miss:      storage.MissDistance{Astronomical: "0.0485", Lunar: "18.8", Kilometers: "7254000", Miles: "4507000"},
		orbit: storage.OrbitalData{
			OrbitID:                   "test-orbit",
			FirstObservationDate:      "2023-01-01",
			LastObservationDate:       "2025-10-17",
			DataArcInDays:             365,
			ObservationsUsed:          50,
			OrbitUncertainty:          "0",
			MinimumOrbitIntersection:  "0.05",
			JupiterTisserandInvariant: "4.5",
			EpochOsculation:           "2025-10-18",
			Eccentricity:              "0.35",
			SemiMajorAxis:             "1.5",
			Inclination:               "12.5",
			AscendingNodeLongitude:    "180",
			OrbitalPeriod:             "550",
			PerihelionDistance:        "0.9",
			PerihelionArgument:        "90",
			AphelionDistance:          "2.1",
			PerihelionTime:            "2025-10-18",
			MeanAnomaly:               "45",
			MeanMotion:                "0.65",
			Equinox:                   "J2000",
			OrbitClass:                storage.OrbitClass{Type: "AMO", Description: "Test orbit class", Range: "Test range"},
		},
	},
	smallSynthetic("test-neo-2", "Test NEO 2", "https://example.com/test2", "test-orbit-2", "Test orbit class 2", "Test range 2"),
	smallSynthetic("test-neo-3", "Test NEO 3", "https://example.com/test3", "test-orbit-3", "Test orbit class 3", "Test range 3"),
}

// The second and third objects share every measurement.
func smallSynthetic(id, name, jplURL, orbitID, classDesc, classRange string) syntheticSeed {
	return syntheticSeed{
		id:        id,
		name:      name,
		jplURL:    jplURL,
		magnitude: 18.2,
		diameter: storage.EstimatedDiameter{
			Kilometers: storage.DiameterRange{Min: 0.5, Max: 1.1},
			Meters:     storage.DiameterRange{Min: 500, Max: 1100},
			Miles:      storage.DiameterRange{Min: 0.31, Max: 0.68},
			Feet:       storage.DiameterRange{Min: 1640, Max: 3608},
		},
		velocity: storage.RelativeVelocity{KilometersPerSecond: "15.7", KilometersPerHour: "56520", MilesPerHour: "35120"},
		miss:     storage.MissDistance{Astronomical: "0.0927", Lunar: "36.0", Kilometers: "13867620", Miles: "8616246"},
		orbit: storage.OrbitalData{
			OrbitID:                   orbitID,
			FirstObservationDate:      "2023-02-15",
			LastObservationDate:       "2025-10-17",
			DataArcInDays:             320,
			ObservationsUsed:          42,
			OrbitUncertainty:          "0",
			MinimumOrbitIntersection:  "0.08",
			JupiterTisserandInvariant: "5.2",
			EpochOsculation:           "2025-10-18",
			Eccentricity:              "0.28",
			SemiMajorAxis:             "1.8",
			Inclination:               "9.3",
			AscendingNodeLongitude:    "210",
			OrbitalPeriod:             "720",
			PerihelionDistance:        "1.2",
			PerihelionArgument:        "120",
			AphelionDistance:          "2.4",
			PerihelionTime:            "2025-10-18",
			MeanAnomaly:               "50",
			MeanMotion:                "0.5",
			Equinox:                   "J2000",
			OrbitClass:                storage.OrbitClass{Type: "ATE", Description: classDesc, Range: classRange},
		},
	}
}

// SyntheticNEOs builds the three test objects with close approaches at
// now plus SyntheticOffsets.
func SyntheticNEOs(now time.Time) []storage.NearEarthObject {
	out := make([]storage.NearEarthObject, 0, len(syntheticSeeds))
	for i, s := range syntheticSeeds {
		at := now.Add(SyntheticOffsets[i]).UTC()
		full := at.Format(ApproachLayout)
		date, _, _ := strings.Cut(full, " ")

		orbit := s.orbit
		orbit.OrbitDeterminationDate = full

		out = append(out, storage.NearEarthObject{
			Links:                  storage.Links{Self: "https://api.nasa.gov/neo/rest/v1/neo/" + s.id},
			ID:                     s.id,
			NeoReferenceID:         s.id,
			Name:                   s.name,
			NasaJPLURL:             s.jplURL,
			AbsoluteMagnitudeH:     s.magnitude,
			EstimatedDiameter:      s.diameter,
			IsPotentiallyHazardous: s.hazardous,
			CloseApproachData: []storage.CloseApproachEvent{{
				CloseApproachDate:      date,
				CloseApproachDateFull:  full,
				EpochDateCloseApproach: at.UnixMilli(),
				RelativeVelocity:       s.velocity,
				MissDistance:           s.miss,
				OrbitingBody:           "Earth",
			}},
			OrbitalData: &orbit,
		})
	}
	return out
}

// InjectSynthetic prepends the test objects to the first date key of resp
// (fallbackKey when the map is empty) and bumps element_count by two. The
// count is advisory and consumers depend on the +2.
func InjectSynthetic(resp *storage.FeedResponse, fallbackKey string, now time.Time) {
	if resp.NearEarthObjects == nil {
		resp.NearEarthObjects = make(map[string][]storage.NearEarthObject)
	}
	key := resp.FirstKey()
	if key == "" {
		key = fallbackKey
	}

	synthetic := SyntheticNEOs(now)
	resp.NearEarthObjects[key] = append(synthetic, resp.NearEarthObjects[key]...)
	resp.ElementCount += 2
}

// IsSynthetic reports whether id names one of the injected test objects.
func IsSynthetic(id string) bool {
	for _, s := range syntheticSeeds {
		if s.id == id {
			return true
		}
	}
	return false
}
