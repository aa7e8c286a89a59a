package payments

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodValidate(t *testing.T) {
	wallet := Method{Code: BKash, MobileWallet: true}
	cod := Method{Code: CashOnDelivery}

	cases := []struct {
		name    string
		method  Method
		details Details
		fields  []string
	}{
		{name: "cod needs nothing", method: cod},
		{name: "valid wallet", method: wallet, details: Details{MobileNumber: "01712345678", TransactionID: "TX1234"}},
		{name: "trimmed wallet", method: wallet, details: Details{MobileNumber: " 01712345678 ", TransactionID: " 8N7A6D5 "}},
		{name: "missing both", method: wallet, fields: []string{"mobileNumber", "transactionId"}},
		{name: "short number", method: wallet, details: Details{MobileNumber: "0171234567", TransactionID: "TX1234"}, fields: []string{"mobileNumber"}},
		{name: "letters in number", method: wallet, details: Details{MobileNumber: "0171234567a", TransactionID: "TX1234"}, fields: []string{"mobileNumber"}},
		{name: "short transaction", method: wallet, details: Details{MobileNumber: "01712345678", TransactionID: "TX123"}, fields: []string{"transactionId"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.method.Validate(tc.details)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
				assert.NotEmpty(t, e.Reason)
			}
			assert.Equal(t, tc.fields, fields)
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := DefaultRegistry()

	m, err := reg.Lookup(" bKash ")
	require.NoError(t, err)
	assert.True(t, m.MobileWallet)

	m, err = reg.Lookup("cash-on-delivery")
	require.NoError(t, err)
	assert.Equal(t, "Cash on Delivery", m.Label)
	assert.False(t, m.MobileWallet)

	_, err = reg.Lookup("paypal")
	assert.True(t, errors.Is(err, ErrUnknownMethod))

	codes := make([]string, 0)
	for _, m := range reg.Methods() {
		codes = append(codes, m.Code)
	}
	assert.Equal(t, []string{CashOnDelivery, BKash, Nagad, Rocket}, codes)
}

func TestLoadRegistryFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "methods.yaml")
	content := `
methods:
  - code: upay
    label: Upay
    mobileWallet: true
  - code: cash_on_delivery
  - code: UPAY
    label: duplicate
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	methods := reg.Methods()
	require.Len(t, methods, 2)
	assert.Equal(t, Method{Code: "upay", Label: "Upay", MobileWallet: true}, methods[0])
	assert.Equal(t, Method{Code: CashOnDelivery, Label: CashOnDelivery}, methods[1])
}

func TestParseRegistryRejectsEmpty(t *testing.T) {
	_, err := ParseRegistry([]byte("methods: []"))
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("methods:\n  - label: nameless\n"))
	assert.Error(t, err)

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
