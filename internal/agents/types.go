// Package agents provides the agent data model and population spawning.
package agents

import (
	"github.com/paulmach/orb"
)

// AgentID is a unique identifier for an agent. IDs are never reused.
type AgentID uint64

// DiseaseStage is an agent's position in the S-I-R-D progression.
type DiseaseStage uint8

const (
	Susceptible DiseaseStage = iota
	Infected
	Recovered
	Dead
)

// NumStages is the number of disease stages.
const NumStages = 4

var stageNames = [NumStages]string{"susceptible", "infected", "recovered", "dead"}

func (s DiseaseStage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// TravelState governs steering and reflection for migrating agents.
type TravelState uint8

const (
	Resting             TravelState = iota // Zero value: non-migrators are always resting
	MovingToDestination                    // Heading to DestinationRegion
	MovingToHome                           // Heading back to HomeRegion
)

func (t TravelState) String() string {
	switch t {
	case Resting:
		return "resting"
	case MovingToDestination:
		return "moving_to_destination"
	case MovingToHome:
		return "moving_to_home"
	}
	return "unknown"
}

// NotArrived is the ArrivedAt sentinel for agents that are not resting at a region.
const NotArrived = -1.0

// Agent is one simulated individual.
type Agent struct {
	ID AgentID `json:"id"`

	// Kinematics
	Position orb.Point `json:"position"`
	Velocity orb.Point `json:"velocity"` // Each axis in [-1, 1], not normalized
	Radius   float64   `json:"radius"`

	// Disease
	Stage            DiseaseStage `json:"stage"`
	StageChangedAt   float64      `json:"stage_changed_at"`  // Sim time of the last stage transition
	RecoveryDuration float64      `json:"recovery_duration"` // Drawn at infection

	// Regions
	HomeRegion        string `json:"home_region"`
	CurrentRegion     string `json:"current_region"`
	DestinationRegion string `json:"destination_region,omitempty"` // Empty for non-migrators

	// Migration
	Travel       TravelState `json:"travel"`
	ArrivedAt    float64     `json:"arrived_at"`    // NotArrived unless resting after a trip
	RestDuration float64     `json:"rest_duration"` // Drawn on arrival
}

// Migrating reports whether the agent was tagged by a flow.
func (a *Agent) Migrating() bool {
	return a.DestinationRegion != ""
}

// Travelling reports whether the agent is actively steered toward a region.
func (a *Agent) Travelling() bool {
	return a.Migrating() && a.Travel != Resting
}

// Alive reports whether the agent can still move or change stage.
func (a *Agent) Alive() bool {
	return a.Stage != Dead
}

// StageCounts holds one counter per disease stage.
type StageCounts struct {
	Susceptible int `json:"susceptible"`
	Infected    int `json:"infected"`
	Recovered   int `json:"recovered"`
	Dead        int `json:"dead"`
}

// Total returns the sum of all four counters.
func (c StageCounts) Total() int {
	return c.Susceptible + c.Infected + c.Recovered + c.Dead
}

// Add increments the counter for stage by delta.
func (c *StageCounts) Add(stage DiseaseStage, delta int) {
	switch stage {
	case Susceptible:
		c.Susceptible += delta
	case Infected:
		c.Infected += delta
	case Recovered:
		c.Recovered += delta
	case Dead:
		c.Dead += delta
	}
}

// Plus returns the element-wise sum of c and o.
func (c StageCounts) Plus(o StageCounts) StageCounts {
	return StageCounts{
		Susceptible: c.Susceptible + o.Susceptible,
		Infected:    c.Infected + o.Infected,
		Recovered:   c.Recovered + o.Recovered,
		Dead:        c.Dead + o.Dead,
	}
}
