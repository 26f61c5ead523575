// Package zonemap resolves monitoring stations to administrative zones.
// The primary path is the admin_code carried on the station row; stations
// missing one can be backfilled from an administrative boundary shapefile.
package zonemap

import "github.com/mnocc/vigilance-cli/internal/model"

// FromStations builds the station → admin zone lookup. Stations without an
// admin code are left out, so their observations never reach an aggregate.
func FromStations(stations []model.Station) map[string]string {
	zones := make(map[string]string, len(stations))
	for _, s := range stations {
		if s.Mapped() {
			zones[s.ID] = *s.AdminCode
		}
	}
	return zones
}

// Apply annotates observations with their station's zone and returns only
// rows from mapped stations, preserving input order.
func Apply(obs []model.Observation, zones map[string]string) []model.Observation {
	mapped := make([]model.Observation, 0, len(obs))
	for _, o := range obs {
		code, ok := zones[o.StationID]
		if !ok {
			continue
		}
		o.AdminCode = code
		mapped = append(mapped, o)
	}
	return mapped
}
