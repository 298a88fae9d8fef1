package promptpay

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ProxyType selects how a raw payee target is interpreted.
type ProxyType string

const (
	ProxyTypeAuto    ProxyType = "auto"
	ProxyTypePhone   ProxyType = "phone"
	ProxyTypeCitizen ProxyType = "citizen"
	ProxyTypeTax     ProxyType = "tax"
	ProxyTypeWallet  ProxyType = "wallet"
	ProxyTypeBank    ProxyType = "bank"
)

var (
	ErrEmptyTarget        = errors.New("promptpay target is required")
	ErrUnsupportedType    = errors.New("unsupported promptpay target type")
	ErrInvalidPhone       = errors.New("phone target must be 0 followed by 9 digits")
	ErrInvalidCitizenID   = errors.New("citizen id target must be exactly 13 digits")
	ErrInvalidTaxID       = errors.New("tax or e-wallet target must be exactly 15 digits")
	ErrInvalidBankCode    = errors.New("bank code must be exactly 3 digits")
	ErrInvalidBankAccount = errors.New("bank account must be 6 to 12 digits")
	ErrUnclassifiedTarget = errors.New("unable to classify promptpay target")
)

// Bank accounts are left-padded with zeros to this length.
const bankAccountLen = 12

var (
	phonePattern  = regexp.MustCompile(`^0\d{9}$`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
	nonAlphanumRe = regexp.MustCompile(`[^0-9A-Za-z]`)
	bankCodeRe    = regexp.MustCompile(`^\d{3}$`)
)

// ResolveProxyID validates a raw payee target and returns the canonical
// proxy ID embedded in the payload's merchant account information.
// With ProxyTypeAuto the target is classified by shape: a leading zero plus
// nine digits is a phone number, 13 digits a citizen ID, 15 digits a tax ID
// or e-wallet, and anything else a bank account when a bank code is given.
func ResolveProxyID(target string, typ ProxyType, bankCode string) (string, error) {
	cleaned := nonAlphanumRe.ReplaceAllString(target, "")
	if cleaned == "" {
		return "", ErrEmptyTarget
	}

	if typ == "" || typ == ProxyTypeAuto {
		resolved, err := classify(cleaned, bankCode)
		if err != nil {
			return "", err
		}
		typ = resolved
	}

	switch typ {
	case ProxyTypePhone:
		if !phonePattern.MatchString(cleaned) {
			return "", ErrInvalidPhone
		}
		return "0066" + cleaned[1:], nil
	case ProxyTypeCitizen:
		if len(cleaned) != 13 || !digitsPattern.MatchString(cleaned) {
			return "", ErrInvalidCitizenID
		}
		return cleaned, nil
	case ProxyTypeTax, ProxyTypeWallet:
		if len(cleaned) != 15 || !digitsPattern.MatchString(cleaned) {
			return "", ErrInvalidTaxID
		}
		return cleaned, nil
	case ProxyTypeBank:
		if !bankCodeRe.MatchString(bankCode) {
			return "", ErrInvalidBankCode
		}
		if len(cleaned) < 6 || len(cleaned) > bankAccountLen || !digitsPattern.MatchString(cleaned) {
			return "", ErrInvalidBankAccount
		}
		return bankCode + strings.Repeat("0", bankAccountLen-len(cleaned)) + cleaned, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
}

func classify(cleaned, bankCode string) (ProxyType, error) {
	switch {
	case phonePattern.MatchString(cleaned):
		return ProxyTypePhone, nil
	case len(cleaned) == 13 && digitsPattern.MatchString(cleaned):
		return ProxyTypeCitizen, nil
	case len(cleaned) == 15 && digitsPattern.MatchString(cleaned):
		return ProxyTypeTax, nil
	case bankCode != "":
		return ProxyTypeBank, nil
	default:
		return "", ErrUnclassifiedTarget
	}
}

// FormatTarget renders a raw target for display, e.g. on a payment page
// next to the QR code. Unrecognized shapes are returned unchanged.
func FormatTarget(target string) string {
	cleaned := nonAlphanumRe.ReplaceAllString(target, "")
	switch {
	case phonePattern.MatchString(cleaned):
		return cleaned[:3] + "-" + cleaned[3:6] + "-" + cleaned[6:]
	case len(cleaned) == 13 && digitsPattern.MatchString(cleaned):
		return cleaned[:1] + "-" + cleaned[1:5] + "-" + cleaned[5:10] + "-" + cleaned[10:12] + "-" + cleaned[12:]
	default:
		return target
	}
}
