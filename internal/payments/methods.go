package payments

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Built-in method codes.
const (
	CashOnDelivery = "cash_on_delivery"
	BKash          = "bkash"
	Nagad          = "nagad"
	Rocket         = "rocket"
)

const (
	mobileNumberDigits   = 11
	minTransactionIDSize = 6
)

// ErrUnknownMethod is returned when a payment method code is not in the registry.
var ErrUnknownMethod = errors.New("payments: unknown payment method")

// Method describes a payment option offered at checkout.
type Method struct {
	Code         string `yaml:"code" json:"code"`
	Label        string `yaml:"label" json:"label"`
	MobileWallet bool   `yaml:"mobileWallet" json:"mobileWallet"`
}

// Details carries the shopper-supplied proof of a mobile-wallet payment.
type Details struct {
	MobileNumber  string `json:"mobileNumber"`
	TransactionID string `json:"transactionId"`
}

// Normalized returns details with surrounding whitespace removed.
func (d Details) Normalized() Details {
	return Details{
		MobileNumber:  strings.TrimSpace(d.MobileNumber),
		TransactionID: strings.TrimSpace(d.TransactionID),
	}
}

// FieldError names an invalid payment field.
type FieldError struct {
	Field  string
	Reason string
}

// Validate checks details against the method's requirements. Only mobile wallets need details.
func (m Method) Validate(d Details) []FieldError {
	if !m.MobileWallet {
		return nil
	}
	d = d.Normalized()
	var errs []FieldError
	if !isMobileNumber(d.MobileNumber) {
		errs = append(errs, FieldError{Field: "mobileNumber", Reason: fmt.Sprintf("must be %d digits", mobileNumberDigits)})
	}
	if len([]rune(d.TransactionID)) < minTransactionIDSize {
		errs = append(errs, FieldError{Field: "transactionId", Reason: fmt.Sprintf("must be at least %d characters", minTransactionIDSize)})
	}
	return errs
}

func isMobileNumber(s string) bool {
	if len(s) != mobileNumberDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DefaultMethods is the built-in catalogue used when no file is configured.
func DefaultMethods() []Method {
	return []Method{
		{Code: CashOnDelivery, Label: "Cash on Delivery"},
		{Code: BKash, Label: "bKash", MobileWallet: true},
		{Code: Nagad, Label: "Nagad", MobileWallet: true},
		{Code: Rocket, Label: "Rocket", MobileWallet: true},
	}
}

// Registry is an ordered, read-only set of payment methods.
type Registry struct {
	methods []Method
	byCode  map[string]int
}

// NewRegistry builds a registry; later duplicates of a code are ignored.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{byCode: make(map[string]int, len(methods))}
	for _, m := range methods {
		m.Code = normalizeCode(m.Code)
		m.Label = strings.TrimSpace(m.Label)
		if m.Code == "" {
			return nil, fmt.Errorf("payments: method without code")
		}
		if _, dup := r.byCode[m.Code]; dup {
			continue
		}
		if m.Label == "" {
			m.Label = m.Code
		}
		r.byCode[m.Code] = len(r.methods)
		r.methods = append(r.methods, m)
	}
	if len(r.methods) == 0 {
		return nil, fmt.Errorf("payments: registry needs at least one method")
	}
	return r, nil
}

// DefaultRegistry returns a registry of DefaultMethods.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(DefaultMethods()...)
	return r
}

// Lookup finds a method by code, case-insensitively.
func (r *Registry) Lookup(code string) (Method, error) {
	if r == nil {
		return Method{}, ErrUnknownMethod
	}
	idx, ok := r.byCode[normalizeCode(code)]
	if !ok {
		return Method{}, fmt.Errorf("%w: %q", ErrUnknownMethod, strings.TrimSpace(code))
	}
	return r.methods[idx], nil
}

// Methods returns the methods in display order.
func (r *Registry) Methods() []Method {
	if r == nil {
		return nil
	}
	out := make([]Method, len(r.methods))
	copy(out, r.methods)
	return out
}

type methodsFile struct {
	Methods []Method `yaml:"methods"`
}

// LoadRegistry reads a YAML catalogue of payment methods.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("payments: read %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes a YAML catalogue of payment methods.
func ParseRegistry(data []byte) (*Registry, error) {
	var file methodsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("payments: decode methods: %w", err)
	}
	return NewRegistry(file.Methods...)
}

func normalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	return strings.ReplaceAll(code, "-", "_")
}
