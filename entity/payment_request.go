package entity

// PaymentRequest is the three-field envelope exchanged with the gateway in
// both directions: encoded parameters, their signature, and the tag naming
// the signature scheme.
type PaymentRequest struct {
	Parameters       string `json:"Ds_MerchantParameters"`
	Signature        string `json:"Ds_Signature"`
	SignatureVersion string `json:"Ds_SignatureVersion"`
}

// SignatureVersion identifies the only signature scheme this service produces
// or accepts.
const SignatureVersion = "HMAC_SHA256_V1"

// PaymentForm carries everything an auto-submitting browser form needs to
// send the customer to the gateway payment page.
type PaymentForm struct {
	Url              string `json:"url"`
	Parameters       string `json:"Ds_MerchantParameters"`
	Signature        string `json:"Ds_Signature"`
	SignatureVersion string `json:"Ds_SignatureVersion"`
}

// RedirectRequest is the storefront's input for composing a redirect payment:
// the reservation reference, the amount in euros and the customer's locale.
type RedirectRequest struct {
	Order       string  `json:"order"`
	Amount      float64 `json:"amount"`
	Locale      string  `json:"locale"`
	Description string  `json:"description"`
}

// ErrorCodeResponse is the REST endpoint's error shape, returned instead of a
// signed response when the gateway rejects a request outright.
type ErrorCodeResponse struct {
	Code string `json:"errorCode"`
}
