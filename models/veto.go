package models

type VetoAction string

const (
	VetoBan      VetoAction = "ban"
	VetoPick     VetoAction = "pick"
	VetoLeftover VetoAction = "leftover"
)

type VetoSide string

const (
	SideTeam1 VetoSide = "team1"
	SideTeam2 VetoSide = "team2"
)

// VetoStep is one ban/pick/leftover step of the map veto.
type VetoStep struct {
	Action VetoAction `json:"action"`
	Side   VetoSide   `json:"side,omitempty"`
	Map    string     `json:"map"`
}

// VetoMaps returns the maps that will be played, in order.
func VetoMaps(steps []VetoStep) []string {
	maps := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.Action == VetoPick || s.Action == VetoLeftover {
			maps = append(maps, s.Map)
		}
	}
	return maps
}
