// Package promptpay builds PromptPay QR payloads following the EMVCo
// TLV layout used by Thai banking apps. The output must be reproduced
// byte for byte: any deviation in field order, length padding or the
// CRC renders the QR code unscannable.
package promptpay

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	applicationID = "A000000677010111"

	currencyTHB = "764"
	countryTH   = "TH"

	maxMerchantNameLen = 25
	maxMerchantCityLen = 15
	maxReferenceLen    = 25
)

// ErrAmountNotPositive is returned when the requested amount is zero or negative.
var ErrAmountNotPositive = errors.New("amount must be positive")

// Request carries everything needed to build one payment payload.
type Request struct {
	Target       string
	Type         ProxyType
	BankCode     string
	Amount       decimal.Decimal
	MerchantName string
	MerchantCity string
	Reference    string
}

// Result is the encoded payload plus the canonical proxy ID it embeds.
type Result struct {
	Payload string
	ProxyID string
}

// Encode assembles the TLV payload for a dynamic (amount-carrying) PromptPay
// QR code and appends the CRC16 checksum.
func Encode(req Request) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}

	proxyID, err := ResolveProxyID(req.Target, req.Type, req.BankCode)
	if err != nil {
		return nil, err
	}

	reference := truncate(sanitizeReference(req.Reference), maxReferenceLen)

	merchant := field("00", applicationID) + field("01", proxyID)
	if reference != "" {
		merchant += field("02", reference)
	}

	var b strings.Builder
	b.WriteString(field("00", "01")) // payload format indicator
	b.WriteString(field("01", "11")) // dynamic point of initiation
	b.WriteString(field("29", merchant))
	b.WriteString(field("52", "0000"))
	b.WriteString(field("53", currencyTHB))
	b.WriteString(field("54", req.Amount.StringFixed(2)))
	b.WriteString(field("58", countryTH))
	if name := truncate(req.MerchantName, maxMerchantNameLen); name != "" {
		b.WriteString(field("59", name))
	}
	if city := truncate(req.MerchantCity, maxMerchantCityLen); city != "" {
		b.WriteString(field("60", city))
	}
	if reference != "" {
		b.WriteString(field("62", field("01", reference)))
	}

	// The checksum covers the payload including its own tag and length.
	b.WriteString("6304")
	payload := b.String()
	payload += fmt.Sprintf("%04X", crc16(payload))

	return &Result{Payload: payload, ProxyID: proxyID}, nil
}

// field encodes one tag-length-value triple. Lengths are decimal character
// counts zero-padded to two digits; callers keep values under 100 characters.
func field(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

func sanitizeReference(ref string) string {
	return nonAlphanumRe.ReplaceAllString(ref, "")
}

// truncate caps s at max bytes without splitting a multi-byte rune, so the
// encoded field length always covers whole characters.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// crc16 computes CRC-16/CCITT: polynomial 0x1021, initial value 0xFFFF,
// most significant bit first, no final XOR.
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
