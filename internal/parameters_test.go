package internal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"pedalpay/config"
	"pedalpay/entity"
	"regexp"
	"testing"
)

func testConfig() *config.Config {
	conf := &config.Config{}
	conf.SiteUrl = "https://bikes.example.com"
	conf.Merchant.Code = "999008881"
	conf.Merchant.Terminal = "001"
	conf.Merchant.Secret = base64.StdEncoding.EncodeToString([]byte("0123456789abcdefghijklmn"))
	conf.Merchant.FormUrl = "https://sis-t.redsys.es:25443/sis/realizarPago"
	conf.Merchant.RequestUrl = "https://sis-t.redsys.es:25443/sis/rest/trataPeticionREST"
	return conf
}

func TestAmountToCents(t *testing.T) {
	tests := []struct {
		name    string
		amount  float64
		want    int
		wantErr bool
	}{
		{"whole euros", 30.00, 3000, false},
		{"cents", 12.34, 1234, false},
		{"rounds up", 10.555, 1056, false},
		{"rounds down", 10.554, 1055, false},
		{"float artifact", 19.99, 1999, false},
		{"zero", 0, 0, true},
		{"negative", -5, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmountToCents(tt.amount)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("want ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("AmountToCents(%v) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestNormalizeOrder(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{12}$`)

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"single digit", "1", "000000000001", false},
		{"exact length", "123456789012", "123456789012", false},
		{"too long keeps tail", "9912345678901234", "345678901234", false},
		{"whitespace trimmed", " 42 ", "000000000042", false},
		{"letters rejected", "12ab", "", true},
		{"empty rejected", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeOrder(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOrderId) {
					t.Fatalf("want ErrInvalidOrderId, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeOrder(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			if !pattern.MatchString(got) {
				t.Errorf("NormalizeOrder(%q) = %q, not 12 digits", tt.raw, got)
			}
		})
	}
}

func TestLanguageCode(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{"es", "001"},
		{"en", "002"},
		{"en-GB", "002"},
		{"fr_FR", "004"},
		{"CA", "003"},
		{"zz", "001"},
		{"", "001"},
	}
	for _, tt := range tests {
		if got := LanguageCode(tt.locale); got != tt.want {
			t.Errorf("LanguageCode(%q) = %q, want %q", tt.locale, got, tt.want)
		}
	}
}

func TestBuildMerchantParameters(t *testing.T) {
	conf := testConfig()
	request := &entity.RedirectRequest{
		Order:       "1",
		Amount:      30.00,
		Locale:      "en",
		Description: "City bike, 2 days",
	}

	parameters, err := BuildMerchantParameters(conf, request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parameters.Amount != "3000" {
		t.Errorf("amount = %q, want %q", parameters.Amount, "3000")
	}
	if parameters.Order != "000000000001" {
		t.Errorf("order = %q, want %q", parameters.Order, "000000000001")
	}
	if parameters.Currency != "978" {
		t.Errorf("currency = %q, want %q", parameters.Currency, "978")
	}
	if parameters.TransactionType != "0" {
		t.Errorf("transaction type = %q, want %q", parameters.TransactionType, "0")
	}
	if parameters.MerchantUrl != "https://bikes.example.com/payment/notify" {
		t.Errorf("merchant url = %q", parameters.MerchantUrl)
	}
	if parameters.UrlOk != "https://bikes.example.com/payment/success" {
		t.Errorf("url ok = %q", parameters.UrlOk)
	}
	if parameters.UrlKo != "https://bikes.example.com/payment/failure" {
		t.Errorf("url ko = %q", parameters.UrlKo)
	}
	if parameters.ConsumerLanguage != "002" {
		t.Errorf("language = %q, want %q", parameters.ConsumerLanguage, "002")
	}

	// the notification endpoint must stay distinct from the browser pages
	if parameters.MerchantUrl == parameters.UrlOk || parameters.MerchantUrl == parameters.UrlKo {
		t.Error("notification url collides with a browser landing page")
	}
}

func TestBuildMerchantParametersDefaultLocale(t *testing.T) {
	conf := testConfig()
	conf.DefaultLocale = "en"

	parameters, err := BuildMerchantParameters(conf, &entity.RedirectRequest{Order: "7", Amount: 15.00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parameters.ConsumerLanguage != "002" {
		t.Errorf("language = %q, want %q (configured default)", parameters.ConsumerLanguage, "002")
	}

	// an explicit locale still wins over the configured default
	parameters, err = BuildMerchantParameters(conf, &entity.RedirectRequest{Order: "7", Amount: 15.00, Locale: "fr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parameters.ConsumerLanguage != "004" {
		t.Errorf("language = %q, want %q", parameters.ConsumerLanguage, "004")
	}
}

func TestBuildMerchantParametersFieldNames(t *testing.T) {
	conf := testConfig()
	parameters, err := BuildMerchantParameters(conf, &entity.RedirectRequest{Order: "77", Amount: 12.50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded, err := json.Marshal(parameters)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err = json.Unmarshal(encoded, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, name := range []string{
		"DS_MERCHANT_AMOUNT", "DS_MERCHANT_ORDER", "DS_MERCHANT_MERCHANTCODE",
		"DS_MERCHANT_CURRENCY", "DS_MERCHANT_TRANSACTIONTYPE", "DS_MERCHANT_TERMINAL",
	} {
		if _, ok := fields[name]; !ok {
			t.Errorf("serialized parameters miss field %s", name)
		}
	}
}
