package entity

// PaymentParameters is the decoded payload of a gateway notification or REST
// response. It is trusted only after its signature has been verified against
// the order number it carries; an unverified payload must be discarded whole.
type PaymentParameters struct {
	Date         string `json:"Ds_Date" bson:"date"`
	Hour         string `json:"Ds_Hour" bson:"hour"`
	Amount       string `json:"Ds_Amount" bson:"amount"`
	Currency     string `json:"Ds_Currency" bson:"currency"`
	Order        string `json:"Ds_Order" bson:"order"`
	MerchantCode string `json:"Ds_MerchantCode" bson:"merchant_code"`
	Terminal     string `json:"Ds_Terminal" bson:"terminal"`
	// Response code; "0000".."0099" means an approved authorization,
	// "0900" a confirmed refund
	Response          string `json:"Ds_Response" bson:"response"`
	AuthorisationCode string `json:"Ds_AuthorisationCode" bson:"authorisation_code"`
	TransactionType   string `json:"Ds_TransactionType" bson:"transaction_type"`
	ConsumerLanguage  string `json:"Ds_ConsumerLanguage" bson:"consumer_language"`
	SecurePayment     string `json:"Ds_SecurePayment" bson:"secure_payment"`
	CardBrand         string `json:"Ds_Card_Brand" bson:"card_brand"`
	CardCountry       string `json:"Ds_Card_Country" bson:"card_country"`
}
