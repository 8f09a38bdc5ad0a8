package transport

import (
	"github.com/TheMichaelB/strongroom/internal/models"
)

// Op names a bridge request.
type Op string

const (
	OpItems     Op = "items"
	OpLoad      Op = "load"
	OpThumbnail Op = "thumbnail"
)

// Status of a bridge response.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// Request is sent by the gallery view. Seq is echoed back unchanged so the
// client can match responses arriving out of order.
type Request struct {
	Op  Op     `json:"op"`
	ID  string `json:"id,omitempty"`
	Seq int64  `json:"seq"`
}

// Response answers a single Request.
type Response struct {
	Op      Op                     `json:"op"`
	Seq     int64                  `json:"seq"`
	ID      string                 `json:"id,omitempty"`
	Status  Status                 `json:"status"`
	Payload string                 `json:"payload,omitempty"`
	Items   map[string]ItemSummary `json:"items,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
}

// ItemSummary is the metadata listing sent for OpItems. Payloads stay on
// the server; Cached tells the view which loads will be instant.
type ItemSummary struct {
	models.ItemMetadata
	Cached bool `json:"cached"`
}

func summarize(items map[string]models.DecryptedItem) map[string]ItemSummary {
	out := make(map[string]ItemSummary, len(items))
	for id, item := range items {
		out[id] = ItemSummary{ItemMetadata: item.ItemMetadata, Cached: item.Cached()}
	}
	return out
}
