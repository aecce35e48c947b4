package payments

import (
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

type amountJSON struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationJSON struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type receiptItemJSON struct {
	Description string     `json:"description"`
	Quantity    string     `json:"quantity"`
	Amount      amountJSON `json:"amount"`
	VATCode     int        `json:"vat_code"`
}

type receiptJSON struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Items []receiptItemJSON `json:"items"`
}

type createPaymentJSON struct {
	Amount       amountJSON        `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation confirmationJSON  `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Receipt      *receiptJSON      `json:"receipt,omitempty"`
}

type captureJSON struct {
	Amount amountJSON `json:"amount"`
}

type paymentJSON struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       amountJSON        `json:"amount"`
	Confirmation *confirmationJSON `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func amountOf(m orders.Money, currency string) amountJSON {
	return amountJSON{Value: m.StringFixed(2), Currency: currency}
}

func (p paymentJSON) toPayment() (Payment, error) {
	out := Payment{
		ID:        p.ID,
		Status:    p.Status,
		Paid:      p.Paid,
		Currency:  p.Amount.Currency,
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt,
	}
	if p.Amount.Value != "" {
		amount, err := orders.ParseMoney(p.Amount.Value)
		if err != nil {
			return Payment{}, err
		}
		out.Amount = amount
	}
	if p.Confirmation != nil {
		out.ConfirmationURL = p.Confirmation.ConfirmationURL
	}
	return out, nil
}
