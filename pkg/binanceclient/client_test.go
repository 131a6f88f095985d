package binanceclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSign(t *testing.T) {
	// Example request from the Binance API documentation.
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := Sign(secret, payload); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestGetAccount_SignsRequest(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("timestamp"); got != "1700000000000" {
			t.Errorf("expected timestamp 1700000000000, got %s", got)
		}
		if got := r.URL.Query().Get("signature"); got != Sign("secret", "timestamp=1700000000000") {
			t.Errorf("unexpected signature %s", got)
		}
		if got := r.Header.Get("X-MBX-APIKEY"); got != "key" {
			t.Errorf("expected api key header, got %q", got)
		}
		w.Write([]byte(`{"uid":7,"balances":[{"asset":"USDT","free":"1.5","locked":"0.5"},{"asset":"usdt","free":"1","locked":"0"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithClock(func() time.Time { return fixed }))
	account, err := c.GetAccount(context.Background(), "key", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total, ok := account.Total("USDT")
	if !ok || total.String() != "3" {
		t.Fatalf("expected USDT total 3, got %s (found=%v)", total, ok)
	}
}

func TestGetAccount_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":-2014,"msg":"API-key format invalid."}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).GetAccount(context.Background(), "key", "secret")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != -2014 {
		t.Fatalf("unexpected error fields: %+v", apiErr)
	}
}
