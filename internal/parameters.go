package internal

import (
	"fmt"
	"math"
	"pedalpay/config"
	"pedalpay/entity"
	"strings"
)

const (
	currencyEUR       = "978"
	typeAuthorization = "0"
	typeRefund        = "3"
	orderLength       = 12
)

// languageCodes maps storefront locales to the gateway's numeric consumer
// language codes. Unknown locales fall back to defaultLanguage.
var languageCodes = map[string]string{
	"es": "001",
	"en": "002",
	"ca": "003",
	"fr": "004",
	"de": "005",
	"nl": "006",
	"it": "007",
	"pt": "009",
}

// defaultLanguage is the gateway's own default catalogue language (Spanish);
// unknown locales fail closed to it instead of guessing.
const defaultLanguage = "001"

// BuildMerchantParameters assembles the canonical parameter set for one
// redirect payment: amount converted to integer cents, order number
// normalized to 12 digits, callback URLs derived from the configured site
// base URL.
func BuildMerchantParameters(conf *config.Config, request *entity.RedirectRequest) (*entity.MerchantParameters, error) {
	amount, err := AmountToCents(request.Amount)
	if err != nil {
		return nil, err
	}
	order, err := NormalizeOrder(request.Order)
	if err != nil {
		return nil, err
	}
	locale := request.Locale
	if locale == "" {
		locale = conf.DefaultLocale
	}
	base := strings.TrimSuffix(conf.SiteUrl, "/")
	return &entity.MerchantParameters{
		Amount:             fmt.Sprintf("%d", amount),
		Order:              order,
		MerchantCode:       conf.Merchant.Code,
		Currency:           currencyEUR,
		TransactionType:    typeAuthorization,
		Terminal:           conf.Merchant.Terminal,
		MerchantUrl:        base + paymentNotify,
		UrlOk:              base + paymentSuccess,
		UrlKo:              base + paymentFailure,
		ConsumerLanguage:   LanguageCode(locale),
		ProductDescription: request.Description,
	}, nil
}

// AmountToCents converts an amount in euros to integer cents, rounding to the
// nearest cent. Zero and negative amounts are rejected.
func AmountToCents(amount float64) (int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	cents := int(math.Round(amount * 100))
	if cents <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return cents, nil
}

// NormalizeOrder forces an order reference into the gateway's fixed 12-digit
// shape: shorter values are left-padded with zeros, longer values keep their
// last 12 characters. A result with any non-digit character is rejected.
func NormalizeOrder(raw string) (string, error) {
	order := strings.TrimSpace(raw)
	if order == "" {
		return "", fmt.Errorf("%w: empty order reference", ErrInvalidOrderId)
	}
	if len(order) > orderLength {
		order = order[len(order)-orderLength:]
	}
	if len(order) < orderLength {
		order = strings.Repeat("0", orderLength-len(order)) + order
	}
	for _, r := range order {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidOrderId, raw)
		}
	}
	return order, nil
}

// LanguageCode maps a storefront locale ("es", "en-GB") to the gateway's
// numeric language code.
func LanguageCode(locale string) string {
	locale = strings.ToLower(locale)
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if code, ok := languageCodes[locale]; ok {
		return code
	}
	return defaultLanguage
}
