package webhooks

import (
	"encoding/json"
	"strconv"
)

// Notification is the processor's webhook body.
type Notification struct {
	Type   string             `json:"type"`
	Event  string             `json:"event"`
	Object NotificationObject `json:"object"`
}

// NotificationObject is the payment the notification is about.
type NotificationObject struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Paid      bool     `json:"paid"`
	Amount    Amount   `json:"amount"`
	Metadata  Metadata `json:"metadata"`
	CreatedAt string   `json:"created_at"`
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Metadata holds string values; numbers are accepted and stored in their decimal form.
type Metadata map[string]string

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
				out[k] = n.String()
			}
		}
	}
	*m = out
	return nil
}
