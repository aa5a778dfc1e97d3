package webhook

import (
	"net/url"
	"strconv"
)

// Form field names fixed by the payment gateway.
const (
	fieldMerchantID  = "MERCHANT_ID"
	fieldAmount      = "AMOUNT"
	fieldOrderID     = "MERCHANT_ORDER_ID"
	fieldSign        = "SIGN"
	fieldUserID      = "us_user_id"
	fieldIntID       = "intid"
	fieldStatusCheck = "status_check"
)

// Payload is one provider callback.
type Payload struct {
	MerchantID  string `validate:"required"`
	Amount      string `validate:"required"`
	OrderID     string `validate:"required"`
	Sign        string `validate:"required"`
	UserID      string `validate:"required,numeric"`
	IntID       string `validate:"required"`
	StatusCheck bool   `validate:"-"`
}

// PayloadFromForm maps a parsed form body onto Payload. A status check is detected by key presence.
func PayloadFromForm(form url.Values) Payload {
	_, statusCheck := form[fieldStatusCheck]

	return Payload{
		MerchantID:  form.Get(fieldMerchantID),
		Amount:      form.Get(fieldAmount),
		OrderID:     form.Get(fieldOrderID),
		Sign:        form.Get(fieldSign),
		UserID:      form.Get(fieldUserID),
		IntID:       form.Get(fieldIntID),
		StatusCheck: statusCheck,
	}
}

// userID is only meaningful after validation.
func (p Payload) userID() int64 {
	id, _ := strconv.ParseInt(p.UserID, 10, 64)
	return id
}
