// Package translator implements the Translator (spec §3.3, §4.F):
// converts a free-text user request into an immutable Ticket, preferring
// an LLM parse but falling back to deterministic "house rules" when the
// model is unavailable or its output can't be trusted.
package translator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/anna-assistant/annad/internal/llm"
)

// Intent is the closed set of request intents (§3.3).
type Intent string

const (
	Question   Intent = "question"
	Request    Intent = "request"
	Investigate Intent = "investigate"
)

// Ticket is the Translator's sole output: immutable once created (§3.3).
type Ticket struct {
	UserRequest          string
	Intent               Intent
	Domain               string
	RouteClass           string
	Targets              []string
	NeededProbeIDs       []string
	Clarification        string // non-empty iff the ticket is ambiguous (§4.F)
	Confidence           float64
	AnswerContract       string
	ParseAttempts        int
	FallbackUsed         bool
}

// houseRule is one deterministic keyword->domain mapping used when the LLM
// parse is unavailable or unreliable (§4.F "house rules").
type houseRule struct {
	domain         string
	keywords       []string
	canonicalProbes []string
}

var houseRules = []houseRule{
	{domain: "storage", keywords: []string{"disk", "storage", "space", "partition"}, canonicalProbes: []string{"df", "lsblk"}},
	{domain: "network", keywords: []string{"network", "wifi", "internet", "connection", "dns"}, canonicalProbes: []string{"ip_addr", "ping"}},
	{domain: "security", keywords: []string{"firewall", "security", "permission", "ssh key"}, canonicalProbes: []string{"systemctl_firewall", "failed_logins"}},
	{domain: "packages", keywords: []string{"package", "update", "upgrade", "install"}, canonicalProbes: []string{"pacman_log"}},
	{domain: "desktop", keywords: []string{"desktop", "display", "window manager", "gui"}, canonicalProbes: []string{"failed_units"}},
	{domain: "hardware", keywords: []string{"hardware", "device", "usb", "cpu temperature"}, canonicalProbes: []string{"lscpu", "lsblk"}},
	{domain: "logs", keywords: []string{"log", "journal", "error message"}, canonicalProbes: []string{"journalctl"}},
}

// maxParseAttempts bounds how many times the Translator retries the LLM
// parse before giving up and applying house rules (§4.F).
const maxParseAttempts = 2

// llmParse is the minimal structured shape the Translator asks the model
// to emit; unmarshal failure counts as an unreliable parse.
type llmParse struct {
	Intent         string   `json:"intent"`
	Domain         string   `json:"domain"`
	RouteClass     string   `json:"route_class"`
	Targets        []string `json:"targets"`
	NeededProbeIDs []string `json:"needed_probe_ids"`
	Clarification  string   `json:"clarification"`
	Confidence     float64  `json:"confidence"`
}

// Translator converts free text into Tickets.
type Translator struct {
	llm *llm.Client
}

// New builds a Translator. client may be nil, in which case every ticket
// is produced via house rules (useful for tests and for operating with no
// configured inference server).
func New(client *llm.Client) *Translator {
	return &Translator{llm: client}
}

// Translate implements the Translator contract: given (user_request,
// runtime_context) returns a Ticket or an error (§4.F). runtimeContext is
// free-form text describing the current session (host facts, recent
// commands) folded into the LLM prompt; it has no effect on the house-rule
// fallback.
func (t *Translator) Translate(ctx context.Context, userRequest, runtimeContext string) (Ticket, error) {
	ticket := Ticket{UserRequest: userRequest}

	if t.llm != nil {
		for attempt := 1; attempt <= maxParseAttempts; attempt++ {
			ticket.ParseAttempts = attempt
			parsed, ok := t.tryLLMParse(ctx, userRequest, runtimeContext)
			if ok {
				ticket.Intent = Intent(parsed.Intent)
				ticket.Domain = parsed.Domain
				ticket.RouteClass = parsed.RouteClass
				ticket.Targets = parsed.Targets
				ticket.NeededProbeIDs = parsed.NeededProbeIDs
				ticket.Clarification = parsed.Clarification
				ticket.Confidence = parsed.Confidence
				return ticket, nil
			}
		}
	}

	applyHouseRules(&ticket)
	return ticket, nil
}

func (t *Translator) tryLLMParse(ctx context.Context, userRequest, runtimeContext string) (llmParse, bool) {
	prompt := "Classify this system-assistant request into JSON {intent,domain,route_class,targets,needed_probe_ids,clarification,confidence}.\n" +
		"Runtime context: " + runtimeContext + "\nRequest: " + userRequest

	content, err := t.llm.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return llmParse{}, false
	}

	var parsed llmParse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return llmParse{}, false
	}
	if parsed.Domain == "" || parsed.Confidence <= 0 {
		return llmParse{}, false // unreliable parse: missing required fields
	}
	return parsed, true
}

// applyHouseRules fills in domain/route_class/probes deterministically by
// keyword when the LLM parse was unavailable or untrustworthy (§4.F).
func applyHouseRules(ticket *Ticket) {
	ticket.FallbackUsed = true
	ticket.Intent = Request
	ticket.RouteClass = "general_inquiry"
	ticket.Confidence = 0.5

	lower := strings.ToLower(ticket.UserRequest)
	for _, rule := range houseRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				ticket.Domain = rule.domain
				ticket.NeededProbeIDs = rule.canonicalProbes
				return
			}
		}
	}

	ticket.Domain = "system"
	ticket.NeededProbeIDs = nil
	ticket.Clarification = "Could you say more about what part of the system you mean?"
}

// NewTicketID mints a unique identifier for a ticket-derived case record.
func NewTicketID() string {
	return uuid.NewString()
}
