package ai

const (
	IntentNavigate      = "navigate"
	IntentClarification = "clarification"
)

// DestinationIntent captures the structured output from the AI model.
type DestinationIntent struct {
	// Intent is IntentNavigate when a destination can be searched for.
	Intent string `json:"intent"`

	// Destination is the place name as the user said it. Nil when unclear.
	Destination *string `json:"destination,omitempty"`

	// SearchQuery is what to send to the places search, e.g. "Taipei Main Station".
	SearchQuery string `json:"search_query,omitempty"`

	// ExcludeKeywords filter out unwanted candidates (e.g. "parking").
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`

	// Reply is a short message shown to the user.
	Reply string `json:"reply"`
}

// Query returns the best string to search for.
func (d *DestinationIntent) Query() string {
	if d == nil {
		return ""
	}
	if d.SearchQuery != "" {
		return d.SearchQuery
	}
	if d.Destination != nil {
		return *d.Destination
	}
	return ""
}
