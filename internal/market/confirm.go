package market

import (
	"context"
	"fmt"

	"github.com/atmx/swapmarket/internal/model"
)

// Confirm handles the deferred confirmation of a dispatched item transfer.
// The store was already settled when the transfer was dispatched, so this
// only annotates the outcome.
func (e *Engine) Confirm(_ context.Context, c Confirmation) (*Response, error) {
	var operation string
	switch c.Tag {
	case ConfirmListing:
		operation = "item listing"
	case ConfirmTrade:
		operation = "item trade"
	case ConfirmOffer:
		operation = "item price offer"
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnrecognizedConfirmation, c.Tag)
	}

	outcome := "confirmed"
	if !c.Success {
		outcome = "rejected"
	}
	resp := newResponse("confirm").
		attr("operation", operation).
		attr("item", c.ItemID).
		attr("recipient", c.Recipient.String()).
		attr("outcome", outcome)
	if c.Error != "" {
		resp.attr("error", c.Error)
	}
	return resp, nil
}
