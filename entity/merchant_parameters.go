package entity

// MerchantParameters represents Redsys request parameters for one payment
// operation. The struct is serialized to JSON, Base64-encoded and signed with
// HMAC-SHA256 before being handed to the browser redirect form or the REST
// endpoint. Field order and values must not be touched after signing: the
// signature covers the exact encoded byte sequence.
type MerchantParameters struct {
	// Amount in cents (e.g., "1000" = 10.00 EUR)
	Amount string `json:"DS_MERCHANT_AMOUNT"`
	// Order number - must be unique across the system, exactly 12 digits
	Order string `json:"DS_MERCHANT_ORDER"`
	// Merchant code assigned by Redsys
	MerchantCode string `json:"DS_MERCHANT_MERCHANTCODE"`
	// Currency code (978 = EUR)
	Currency string `json:"DS_MERCHANT_CURRENCY"`
	// Transaction type: "0" = Authorization, "3" = Refund
	TransactionType string `json:"DS_MERCHANT_TRANSACTIONTYPE"`
	// Terminal number assigned by Redsys
	Terminal string `json:"DS_MERCHANT_TERMINAL"`
	// MerchantUrl: server-to-server notification endpoint; must be reachable
	// by the gateway, never a user-facing page
	MerchantUrl string `json:"DS_MERCHANT_MERCHANTURL,omitempty"`
	// UrlOk: browser landing page after an approved payment
	UrlOk string `json:"DS_MERCHANT_URLOK,omitempty"`
	// UrlKo: browser landing page after a declined or abandoned payment
	UrlKo string `json:"DS_MERCHANT_URLKO,omitempty"`
	// ConsumerLanguage: numeric gateway language code ("001" = Spanish)
	ConsumerLanguage string `json:"DS_MERCHANT_CONSUMERLANGUAGE,omitempty"`
	// ProductDescription shown on the gateway payment page
	ProductDescription string `json:"DS_MERCHANT_PRODUCTDESCRIPTION,omitempty"`
}
