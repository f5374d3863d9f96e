package protocol

// InboundFrame is the closed inbound schema: a query admits a new stream,
// a cancel targets one by streamId. Any other type is rejected as a
// protocol error.
type InboundFrame struct {
	Type         string         `json:"type"`
	StreamID     string         `json:"streamId"`
	QueryID      string         `json:"queryId,omitempty"`
	TemplateData map[string]any `json:"templateData,omitempty"`
}
