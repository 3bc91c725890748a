package domain

import "time"

// Evidence is an investigative artifact bound to a ticket. Many evidence
// records may reference one ticket across assignment cycles; only the
// latest is authoritative for settlement.
type Evidence struct {
	ID             string
	TicketID       string
	UploadedBy     string
	Filename       string
	StorageLocator string
	ContentHash    string
	SizeBytes      int64
	AnchorRef      *string
	CreatedAt      time.Time
}
