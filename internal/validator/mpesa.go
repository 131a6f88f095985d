package validator

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/pkg/mpesaclient"
	"github.com/payex/linking-service/pkg/msisdn"
)

// stkVerificationAmount is the amount requested by the verification push.
var stkVerificationAmount = decimal.NewFromInt(1)

// mpesaAPI is the subset of the Daraja client the validator uses.
type mpesaAPI interface {
	HasCredentials() bool
	CanPush() bool
	AccessToken(ctx context.Context) (string, error)
	InitiateSTKPush(ctx context.Context, phone string, amount decimal.Decimal, reference, description string) (*mpesaclient.STKPushResponse, error)
}

// MpesaValidator links a phone number after a successful Daraja OAuth exchange.
type MpesaValidator struct {
	client mpesaAPI
	logger logrus.FieldLogger
}

func NewMpesaValidator(client mpesaAPI, logger logrus.FieldLogger) *MpesaValidator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MpesaValidator{client: client, logger: logger.WithField("provider", domain.ProviderMpesa)}
}

func (v *MpesaValidator) Provider() domain.Provider { return domain.ProviderMpesa }

func (v *MpesaValidator) Validate(ctx context.Context, creds domain.Credentials) (*domain.AccountSnapshot, error) {
	phone, err := msisdn.Normalize(creds.PhoneNumber)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidInput, domain.ProviderMpesa, "phone number must be a valid Safaricom number")
	}
	if !v.client.HasCredentials() {
		return nil, domain.NewError(domain.ErrServiceUnavailable, domain.ProviderMpesa, "M-Pesa linking is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, MpesaTimeout)
	defer cancel()

	if _, err := v.client.AccessToken(ctx); err != nil {
		v.logger.WithError(err).Warn("daraja oauth exchange failed")
		return nil, mapMpesaError(err)
	}

	snapshot := &domain.AccountSnapshot{
		Balance:      decimal.Zero,
		Currency:     domain.ProviderMpesa.DefaultCurrency(),
		Status:       domain.StatusActive,
		DisplayName:  domain.ProviderMpesa.DisplayName(),
		MaskedNumber: domain.MaskNumber(phone),
		Metadata: domain.AccountMetadata{
			Platform:             string(domain.ProviderMpesa),
			ExternalAccountID:    phone,
			PhoneNumber:          phone,
			HasBalanceAccess:     true,
			ValidatedWithRealAPI: true,
		},
	}

	if v.client.CanPush() {
		push, err := v.client.InitiateSTKPush(ctx, phone, stkVerificationAmount, "LINK"+phone[len(phone)-4:], "Account verification")
		if err != nil {
			v.logger.WithError(err).Warn("stk push failed, linking without checkout id")
		} else {
			snapshot.Metadata.STKCheckoutID = push.CheckoutRequestID
			snapshot.Metadata.SetExtra("merchantRequestId", push.MerchantRequestID)
		}
	}
	return snapshot, nil
}

func mapMpesaError(err error) *domain.ValidationError {
	var apiErr *mpesaclient.APIError
	if errors.As(err, &apiErr) {
		return &domain.ValidationError{
			Kind:       domain.ErrServiceUnavailable,
			Provider:   domain.ProviderMpesa,
			Message:    "M-Pesa is unavailable",
			Diagnostic: apiErr.Body,
			Cause:      err,
		}
	}
	return domain.WrapTransportError(domain.ProviderMpesa, err)
}
