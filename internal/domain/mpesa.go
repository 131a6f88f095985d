/**
 * @description
 * This file models the M-Pesa (Daraja) STK push callback envelope that Safaricom
 * posts to the transaction callback endpoint after a customer answers the prompt.
 *
 * @notes
 * - CallbackMetadata.Item values are heterogeneous: amounts and phone numbers arrive
 *   as JSON numbers, receipts as strings, and some items carry no value at all.
 */
package domain

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MpesaCallbackEnvelope is the top-level body of an STK callback.
type MpesaCallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback carries the outcome of a single STK push.
type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// CallbackItem is one {Name, Value} pair from the callback metadata.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// String renders the item value without JSON quoting. Numbers keep their literal form.
func (i CallbackItem) String() string {
	raw := strings.TrimSpace(string(i.Value))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(i.Value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return raw
}

// CallbackDetails are the fields the reconciler needs from a successful callback.
type CallbackDetails struct {
	Amount          decimal.Decimal
	PhoneNumber     string
	ReceiptNumber   string
	TransactionDate string
}

// Details extracts amount, phone number, receipt and transaction date from the item list.
// Unknown items are ignored; a missing or malformed amount yields zero.
func (c STKCallback) Details() CallbackDetails {
	var details CallbackDetails
	for _, item := range c.CallbackMetadata.Item {
		switch strings.ToLower(item.Name) {
		case "amount":
			if amount, err := decimal.NewFromString(item.String()); err == nil {
				details.Amount = amount
			}
		case "phonenumber":
			details.PhoneNumber = item.String()
		case "mpesareceiptnumber":
			details.ReceiptNumber = item.String()
		case "transactiondate":
			details.TransactionDate = item.String()
		}
	}
	return details
}

// Succeeded reports whether the customer completed the push.
func (c STKCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// DedupKey identifies a callback delivery.
func (c STKCallback) DedupKey() string {
	return strings.TrimSpace(c.CheckoutRequestID) + ":" + strconv.Itoa(c.ResultCode)
}

// MpesaCallbackAck is the body returned to Safaricom for every callback.
type MpesaCallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
