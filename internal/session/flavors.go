package session

import "github.com/openscreen/voicecall/internal/faults"

// Flavor selects a pre-baked call scenario: persona, opening line and
// recovery behavior.
type Flavor string

const (
	FlavorScreening      Flavor = "screening"
	FlavorCoworker       Flavor = "coworker"
	FlavorManagerKickoff Flavor = "manager-kickoff"
)

// Endpoints groups the three external URLs a session talks to.
type Endpoints struct {
	Token      string
	Stream     string
	Transcript string
}

type flavorProfile struct {
	persona  string
	opening  string
	recovery bool
}

// Screening and kickoff calls are long and assessed, so they keep recovery
// snapshots; quick coworker chats are cheap to restart from scratch.
var flavorProfiles = map[Flavor]flavorProfile{
	FlavorScreening: {
		persona:  "recruiter-screening",
		opening:  "Hi, thanks for taking the time today. Ready to get started?",
		recovery: true,
	},
	FlavorCoworker: {
		persona:  "coworker-checkin",
		opening:  "Hey! Got a minute to sync up?",
		recovery: false,
	},
	FlavorManagerKickoff: {
		persona:  "manager-kickoff",
		opening:  "Welcome aboard. Let's walk through what your first weeks look like.",
		recovery: true,
	},
}

// FlavorConfig builds an engine Config for a known flavor with the default
// retry policy.
func FlavorConfig(f Flavor, sessionID, callContextID string, eps Endpoints) Config {
	p, ok := flavorProfiles[f]
	if !ok {
		p = flavorProfiles[FlavorScreening]
	}
	return Config{
		SessionID:       sessionID,
		CallContextID:   callContextID,
		Persona:         p.persona,
		Opening:         p.opening,
		StreamURL:       eps.Stream,
		Policy:          faults.DefaultPolicy(),
		RecoveryEnabled: p.recovery,
	}
}
