package models

// RoutingPhase names the cold-start regime the routing engine is operating in.
type RoutingPhase string

const (
	PhaseKeywordOnly RoutingPhase = "keyword-only"
	PhaseBlended     RoutingPhase = "blended"
	PhaseLearned     RoutingPhase = "learned"
)

// ConfirmationLevel maps a routing confidence to how much the caller should
// confirm before acting on the selection.
type ConfirmationLevel string

const (
	ConfirmAuto    ConfirmationLevel = "auto"
	ConfirmShow    ConfirmationLevel = "show"
	ConfirmConfirm ConfirmationLevel = "confirm"
	ConfirmSelect  ConfirmationLevel = "select"
)

// RoutingAnalysis is the input to a routing decision.
type RoutingAnalysis struct {
	Task                 string    `json:"task"`
	Domain               string    `json:"domain"`
	Complexity           float64   `json:"complexity"`
	PrimaryVerb          string    `json:"primaryVerb"`
	Verbs                []string  `json:"verbs"`
	RequiredCapabilities []string  `json:"requiredCapabilities"`
	Embedding            []float32 `json:"embedding"`
	IsMultiStep          bool      `json:"isMultiStep"`
	PreferredAgent       string    `json:"preferredAgent,omitempty"`
}

// RoutingFactor is one scored contributor to a routing decision.
type RoutingFactor struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// RoutingAlternative is a runner-up candidate agent.
type RoutingAlternative struct {
	AgentKey string  `json:"agentKey"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// RoutingResult is the outcome of routing one task to an agent.
type RoutingResult struct {
	SelectedAgent       string                `json:"selectedAgent"`
	Confidence          float64               `json:"confidence"`
	IsColdStart         bool                  `json:"isColdStart"`
	Phase               RoutingPhase          `json:"phase"`
	Factors             []RoutingFactor       `json:"factors"`
	Alternatives        []RoutingAlternative  `json:"alternatives"`
	Explanation         string                `json:"explanation"`
	ConfirmationLevel   ConfirmationLevel     `json:"confirmationLevel"`
	RequiresConfirmation bool                 `json:"requiresConfirmation"`
	RoutingID           string                `json:"routingId"`
	RoutedAt            int64                 `json:"routedAt"`
	RoutingTimeMs       float64               `json:"routingTimeMs"`
	UsedPreference      bool                  `json:"usedPreference,omitempty"`
}

// AgentCapability is one entry in the capability index: an agent's
// indexed keywords, domains, and embedding, used to score candidates.
type AgentCapability struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Domains     []string  `json:"domains"`
	Keywords    []string  `json:"keywords"`
	Embedding   []float32 `json:"embedding"`
	SuccessRate float64   `json:"successRate"`
	TaskCount   int64     `json:"taskCount"`
	IndexedAt   int64     `json:"indexedAt"`
}
