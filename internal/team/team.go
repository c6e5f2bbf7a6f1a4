// Package team implements the Team Router (spec §3.4, §4.G): a pure
// function mapping a Ticket's domain to a specialist Team plus that
// team's fixed EvidenceKind filter.
package team

import "github.com/anna-assistant/annad/internal/evidence"

// Name is the closed set of specialist teams (§3.4).
type Name string

const (
	Desktop     Name = "desktop"
	Storage     Name = "storage"
	Network     Name = "network"
	Performance Name = "performance"
	Services    Name = "services"
	Security    Name = "security"
	Hardware    Name = "hardware"
	Logs        Name = "logs"
	General     Name = "general"
)

// Tier is a specialist's experience level within a team (§3.4, §4.H).
type Tier string

const (
	Junior Tier = "junior"
	Senior Tier = "senior"
)

// evidenceFilters maps each team to the fixed set of EvidenceKinds it
// considers relevant. A team absent here, or mapped to an empty set,
// sees all evidence (§3.4 "empty filter means 'sees all'").
var evidenceFilters = map[Name][]evidence.Kind{
	Desktop:     {evidence.FailedUnits, evidence.Logs},
	Storage:     {evidence.Disk, evidence.BlockDevices},
	Network:     {evidence.Network},
	Performance: {evidence.Cpu, evidence.Memory},
	Services:    {evidence.Services, evidence.FailedUnits},
	Security:    {evidence.FailedUnits, evidence.Logs, evidence.Network},
	Hardware:    {evidence.BlockDevices, evidence.Cpu},
	Logs:        {evidence.Logs},
	General:     nil,
}

// domainRoutes maps a Ticket domain string to the team that owns it.
// Unrecognized domains route to General (§4.G house-rules fallback mirrors
// this default at the Translator layer).
var domainRoutes = map[string]Name{
	"system":   General,
	"network":  Network,
	"storage":  Storage,
	"security": Security,
	"packages": Services,
	"desktop":  Desktop,
	"hardware": Hardware,
	"logs":     Logs,
}

// Route maps a Ticket domain to its Team (§4.G "Pure function Ticket →
// Team"). An unrecognized domain routes to General.
func Route(domain string) Name {
	if t, ok := domainRoutes[domain]; ok {
		return t
	}
	return General
}

// EvidenceFilter returns the set of EvidenceKinds team considers relevant.
// A nil/empty result means "sees all" (§3.4).
func EvidenceFilter(t Name) []evidence.Kind {
	return evidenceFilters[t]
}

// Relevant reports whether kind passes team's evidence filter (§4.G): a
// probe result is relevant iff the team's filter is empty (catch-all), or
// kind is in the filter, or kind is unclassified by the filter mechanism
// itself (defensive default: include unknown kinds).
func Relevant(t Name, kind evidence.Kind) bool {
	filter := evidenceFilters[t]
	if len(filter) == 0 {
		return true
	}
	for _, k := range filter {
		if k == kind {
			return true
		}
	}
	return !isKnownKind(kind)
}

func isKnownKind(kind evidence.Kind) bool {
	switch kind {
	case evidence.Memory, evidence.Cpu, evidence.Disk, evidence.BlockDevices,
		evidence.Services, evidence.FailedUnits, evidence.Network, evidence.Logs:
		return true
	default:
		return false
	}
}
