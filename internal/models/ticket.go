package models

// Message is a single entry of a support conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Ticket is the support ticket payload submitted to the portal backend.
// JSON field names match the portal's wire format.
type Ticket struct {
	SharePointID string    `json:"sharepointId,omitempty"`
	Summary      string    `json:"summary"`
	UserName     string    `json:"userName"`
	UserEmail    string    `json:"userEmail"`
	UserPhone    string    `json:"userPhone,omitempty"`
	Criticality  string    `json:"criticality"`
	Status       string    `json:"status"`
	Category     string    `json:"category,omitempty"`
	Location     string    `json:"location,omitempty"`
	Availability string    `json:"availability,omitempty"`
	ThinkingLog  string    `json:"thinkingLog,omitempty"`
	Transcript   []Message `json:"transcript"`
}

// Valid reports whether the ticket carries the fields the portal requires.
func (t *Ticket) Valid() bool {
	return t.Summary != "" && t.UserName != "" && t.UserEmail != "" &&
		t.Criticality != "" && t.Status != ""
}
