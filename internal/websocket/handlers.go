package websocket

import (
	"fmt"
	"time"

	"github.com/yegors/livemap/internal/airport"
)

// AirportView is the per-airport payload of a bulk response
type AirportView struct {
	airport.State
	DisplayCategory string `json:"display_category"`
}

// BulkHandler answers airport_bulk_request messages with the web view
type BulkHandler struct {
	directory *airport.Directory
	maxAge    time.Duration
	now       func() time.Time
}

// NewBulkHandler creates the handler; maxAge marks observations as OLD
func NewBulkHandler(directory *airport.Directory, maxAge time.Duration) *BulkHandler {
	return &BulkHandler{directory: directory, maxAge: maxAge, now: time.Now}
}

// HandleMessage implements MessageHandler
func (h *BulkHandler) HandleMessage(client *Client, messageType string, _ map[string]any) error {
	if messageType != MessageTypeAirportBulkRequest {
		return fmt.Errorf("unsupported message type %q", messageType)
	}

	airports := h.directory.WebView()
	now := h.now()
	views := make([]AirportView, 0, len(airports))
	for _, a := range airports {
		st := a.Snapshot()
		views = append(views, AirportView{
			State:           st,
			DisplayCategory: string(st.DisplayCategory(now, h.maxAge)),
		})
	}

	if !client.SendMessage(&Message{
		Type: MessageTypeAirportBulkResponse,
		Data: map[string]any{
			"airports": views,
			"count":    len(views),
		},
	}) {
		return fmt.Errorf("client send buffer full")
	}
	return nil
}
