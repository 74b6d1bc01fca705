// Package payment builds the late-fee transfer deep link handed to the
// payment app.
package payment

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"ontime/internal/meeting"
)

// Defaults for the deep link.
const (
	DefaultScheme = "supertoss"
	DefaultOrigin = "ontime"
)

var (
	// ErrNoFee is returned when the meeting charges no late fee.
	ErrNoFee = errors.New("meeting has no late fee")
	// ErrNoAccount is returned when the meeting has no bank account.
	ErrNoAccount = errors.New("meeting has no bank account")
)

// Link is a built payment deep link.
type Link struct {
	URL           string `json:"url"`
	Amount        int64  `json:"amount"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder,omitempty"`
}

// BuildLink returns scheme://send?bank=..&accountNo=..&amount=..&origin=..
// for the meeting's late fee.
func BuildLink(scheme, origin string, m meeting.Meeting) (Link, error) {
	if m.LateFee <= 0 {
		return Link{}, ErrNoFee
	}
	acct := m.Account
	if strings.TrimSpace(acct.BankName) == "" || strings.TrimSpace(acct.AccountNumber) == "" {
		return Link{}, ErrNoAccount
	}
	if scheme == "" {
		scheme = DefaultScheme
	}
	if origin == "" {
		origin = DefaultOrigin
	}
	// parameter order is part of the contract, so url.Values is not used
	q := strings.Join([]string{
		"bank=" + url.QueryEscape(acct.BankName),
		"accountNo=" + url.QueryEscape(acct.AccountNumber),
		"amount=" + strconv.FormatInt(m.LateFee, 10),
		"origin=" + url.QueryEscape(origin),
	}, "&")
	return Link{
		URL:           scheme + "://send?" + q,
		Amount:        m.LateFee,
		BankName:      acct.BankName,
		AccountNumber: acct.AccountNumber,
		AccountHolder: acct.AccountHolder,
	}, nil
}
