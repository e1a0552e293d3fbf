package schema

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"

	"voice-invoice-service/internal/models"
)

const draftID = "6f1c2f5e-8a4b-4c3d-9e2f-1a2b3c4d5e6f"

func TestValidate(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		event   any
		wantErr bool
	}{
		{
			name: "valid transcript",
			event: models.TranscriptFinal{
				EventType: models.EventTranscriptFinal,
				SessionID: "s-1",
				Principal: "svc",
				Timestamp: 1,
				Text:      "Create invoice",
			},
		},
		{
			name: "transcript without text",
			event: models.TranscriptFinal{
				EventType: models.EventTranscriptFinal,
				SessionID: "s-1",
				Principal: "svc",
				Timestamp: 1,
			},
			wantErr: true,
		},
		{
			name: "valid draft",
			event: models.DraftResolved{
				EventType:    models.EventDraftResolved,
				DraftID:      draftID,
				Principal:    "svc",
				Timestamp:    1,
				Transcript:   "Create invoice",
				ClientStatus: "auto_matched",
				LineStatuses: []string{"auto_matched", "unmatched"},
			},
		},
		{
			name: "draft with unknown line status",
			event: models.DraftResolved{
				EventType:    models.EventDraftResolved,
				DraftID:      draftID,
				Principal:    "svc",
				Timestamp:    1,
				Transcript:   "Create invoice",
				ClientStatus: "auto_matched",
				LineStatuses: []string{"guessed"},
			},
			wantErr: true,
		},
		{
			name: "invoice with wrong event type",
			event: models.InvoiceFinalized{
				EventType: models.EventDraftResolved,
				DraftID:   draftID,
				Principal: "svc",
				Timestamp: 1,
			},
			wantErr: true,
		},
		{
			name: "invoice with non-uuid draft id",
			event: models.InvoiceFinalized{
				EventType: models.EventInvoiceFinalized,
				DraftID:   "draft-1",
				Principal: "svc",
				Timestamp: 1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if err != nil {
				var verrs validator.ValidationErrors
				if !errors.As(err, &verrs) {
					t.Errorf("expected wrapped validation errors, got %T", err)
				}
			}
		})
	}
}
