// Package models defines the invoice draft data structures and the events
// published for them.
package models

const (
	EventTranscriptFinal  = "invoice.dictation.transcript.final"
	EventDraftResolved    = "invoice.draft.resolved"
	EventInvoiceFinalized = "invoice.draft.finalized"
)

// TranscriptFinal is emitted once a dictation session settles after a manual
// stop with a non-empty transcript.
type TranscriptFinal struct {
	EventType string `json:"eventType" validate:"required,eq=invoice.dictation.transcript.final"`
	SessionID string `json:"sessionId" validate:"required"`
	Principal string `json:"principal" validate:"required"`
	Timestamp int64  `json:"timestamp" validate:"gt=0"`
	Text      string `json:"text" validate:"required"`
	Restarts  int    `json:"restarts" validate:"gte=0"`
}

// DraftResolved carries a draft after entity resolution and computation.
type DraftResolved struct {
	EventType    string   `json:"eventType" validate:"required,eq=invoice.draft.resolved"`
	DraftID      string   `json:"draftId" validate:"required,uuid4"`
	Principal    string   `json:"principal" validate:"required"`
	Timestamp    int64    `json:"timestamp" validate:"gt=0"`
	Transcript   string   `json:"transcript" validate:"required"`
	ClientStatus string   `json:"clientStatus" validate:"required,oneof=unmatched auto_matched ambiguous_pending"`
	LineStatuses []string `json:"lineStatuses" validate:"dive,oneof=unmatched auto_matched ambiguous_pending"`
	Subtotal     float64  `json:"subtotal"`
	TotalAmount  float64  `json:"totalAmount"`
	Finalizable  bool     `json:"finalizable"`
}

// InvoiceFinalized carries the fully resolved invoice to downstream
// persistence.
type InvoiceFinalized struct {
	EventType string          `json:"eventType" validate:"required,eq=invoice.draft.finalized"`
	DraftID   string          `json:"draftId" validate:"required,uuid4"`
	Principal string          `json:"principal" validate:"required"`
	Timestamp int64           `json:"timestamp" validate:"gt=0"`
	Invoice   ResolvedInvoice `json:"invoice"`
}
