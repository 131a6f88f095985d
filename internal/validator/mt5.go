package validator

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/payex/linking-service/internal/domain"
)

var mt5Leverages = []int{50, 100, 200, 500}

// Balance ranges in whole USD for synthesized MT5 snapshots.
const (
	mt5DemoMin = 10000
	mt5DemoMax = 50000
	mt5RealMin = 100
	mt5RealMax = 5000
)

// MT5Validator performs format-only validation. MetaTrader 5 exposes no public
// API, so the snapshot is synthesized and marked as not validated with a real API.
type MT5Validator struct {
	intn func(n int) int
}

// NewMT5Validator builds the validator. A nil intn uses math/rand.
func NewMT5Validator(intn func(n int) int) *MT5Validator {
	if intn == nil {
		intn = rand.IntN
	}
	return &MT5Validator{intn: intn}
}

func (v *MT5Validator) Provider() domain.Provider { return domain.ProviderMT5 }

func (v *MT5Validator) Validate(_ context.Context, creds domain.Credentials) (*domain.AccountSnapshot, error) {
	login, err := strconv.ParseInt(creds.Login, 10, 64)
	if err != nil || login < 100000 {
		return nil, domain.NewError(domain.ErrInvalidCredentials, domain.ProviderMT5, "login must be a number of at least 6 digits")
	}
	if len(creds.Password) < 6 {
		return nil, domain.NewError(domain.ErrInvalidCredentials, domain.ProviderMT5, "password must be at least 6 characters")
	}
	if len(creds.Server) < 3 {
		return nil, domain.NewError(domain.ErrInvalidCredentials, domain.ProviderMT5, "server name is too short")
	}

	demo := isMT5Demo(creds.Server, creds.Login)
	low, high := mt5RealMin, mt5RealMax
	accountType := "real"
	if demo {
		low, high = mt5DemoMin, mt5DemoMax
		accountType = "demo"
	}
	balance := decimal.NewFromInt(int64(low + v.intn(high-low+1)))
	leverage := mt5Leverages[v.intn(len(mt5Leverages))]

	snapshot := &domain.AccountSnapshot{
		Balance:      balance,
		Currency:     "USD",
		Status:       domain.StatusActive,
		DisplayName:  "MT5 " + creds.Broker,
		MaskedNumber: domain.MaskNumber(creds.Login),
		Metadata: domain.AccountMetadata{
			Platform:             string(domain.ProviderMT5),
			ExternalAccountID:    creds.Server + ":" + creds.Login,
			HasBalanceAccess:     true,
			ValidatedWithRealAPI: false,
			IsDemo:               demo,
		},
	}
	snapshot.Metadata.SetExtra("broker", creds.Broker)
	snapshot.Metadata.SetExtra("server", creds.Server)
	snapshot.Metadata.SetExtra("leverage", "1:"+strconv.Itoa(leverage))
	snapshot.Metadata.SetExtra("accountType", accountType)
	return snapshot, nil
}

func isMT5Demo(server, login string) bool {
	s := strings.ToLower(server)
	for _, marker := range []string{"demo", "trial", "test"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return strings.HasPrefix(login, "1")
}
