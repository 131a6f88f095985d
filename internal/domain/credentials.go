package domain

import (
	"fmt"
	"strings"
)

// Credentials is the raw credential payload a user submits to link an account.
// Only the fields relevant to the chosen provider are populated.
type Credentials struct {
	APIKey           string `json:"apiKey,omitempty"`
	APISecret        string `json:"apiSecret,omitempty"`
	Passphrase       string `json:"passphrase,omitempty"`
	AccountID        string `json:"accountId,omitempty"`
	Broker           string `json:"broker,omitempty"`
	Login            string `json:"login,omitempty"`
	Password         string `json:"password,omitempty"`
	Server           string `json:"server,omitempty"`
	InvestorPassword string `json:"investorPassword,omitempty"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	PIN              string `json:"pin,omitempty"`
	BankName         string `json:"bankName,omitempty"`
	AccountNumber    string `json:"accountNumber,omitempty"`
	AccountName      string `json:"accountName,omitempty"`
	RoutingNumber    string `json:"routingNumber,omitempty"`
}

// RequiredFields lists the credential fields that must be non-empty for a provider.
func RequiredFields(p Provider) []string {
	switch p {
	case ProviderDeriv, ProviderEtoro, ProviderInteractiveBrokers:
		return []string{"apiKey"}
	case ProviderBinance:
		return []string{"apiKey", "apiSecret"}
	case ProviderMT5:
		return []string{"broker", "login", "password", "server"}
	case ProviderMpesa:
		return []string{"phoneNumber"}
	case ProviderBank:
		return []string{"bankName", "accountNumber", "accountName"}
	}
	return nil
}

func (c Credentials) field(name string) string {
	switch name {
	case "apiKey":
		return c.APIKey
	case "apiSecret":
		return c.APISecret
	case "broker":
		return c.Broker
	case "login":
		return c.Login
	case "password":
		return c.Password
	case "server":
		return c.Server
	case "phoneNumber":
		return c.PhoneNumber
	case "bankName":
		return c.BankName
	case "accountNumber":
		return c.AccountNumber
	case "accountName":
		return c.AccountName
	}
	return ""
}

// CheckShape verifies that every field the provider needs is present and non-empty.
func (c Credentials) CheckShape(p Provider) error {
	var missing []string
	for _, name := range RequiredFields(p) {
		if strings.TrimSpace(c.field(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return NewError(ErrInvalidInput, p, "missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
// Passwords are left untouched.
func (c Credentials) Trimmed() Credentials {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.APISecret = strings.TrimSpace(c.APISecret)
	c.AccountID = strings.TrimSpace(c.AccountID)
	c.Broker = strings.TrimSpace(c.Broker)
	c.Login = strings.TrimSpace(c.Login)
	c.Server = strings.TrimSpace(c.Server)
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
	c.BankName = strings.TrimSpace(c.BankName)
	c.AccountNumber = strings.TrimSpace(c.AccountNumber)
	c.AccountName = strings.TrimSpace(c.AccountName)
	c.RoutingNumber = strings.TrimSpace(c.RoutingNumber)
	return c
}

// String never prints secrets.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{apiKey:%s login:%s server:%s phone:%s bank:%s}",
		MaskAPIKey(c.APIKey), c.Login, c.Server, MaskNumber(c.PhoneNumber), c.BankName)
}
