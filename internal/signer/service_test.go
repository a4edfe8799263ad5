package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	client := NewServiceClient(server.URL, nil)
	assert.NoError(t, client.Health(context.Background()))
}

func TestServiceHealthUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewServiceClient(server.URL, nil)
	assert.Error(t, client.Health(context.Background()))
}

func TestSignPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sign-payment", r.URL.Path)

		var req SignPaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0.01", req.AmountUSD)
		assert.Equal(t, "base", req.Chain)

		json.NewEncoder(w).Encode(SignPaymentResponse{
			MerchantTxHash:   "0xmerchant",
			CommissionTxHash: "0xcommission",
		})
	}))
	defer server.Close()

	client := NewServiceClient(server.URL, nil)
	resp, err := client.SignPayment(context.Background(), SignPaymentRequest{
		AmountUSD: "0.01",
		Recipient: "0x1111111111111111111111111111111111111111",
		Chain:     "base",
		Token:     "USDC",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xmerchant", resp.MerchantTxHash)
	assert.Equal(t, "0xcommission", resp.CommissionTxHash)
}

func TestSignPaymentErrors(t *testing.T) {
	tests := []struct {
		name       string
		httpStatus int
		body       string
		wantInErr  string
	}{
		{"service-side error with status", http.StatusBadRequest, `{"error": "insufficient funds"}`, "insufficient funds"},
		{"error in 2xx body", http.StatusOK, `{"error": "wallet locked"}`, "wallet locked"},
		{"missing commission hash", http.StatusOK, `{"tx_hash": "0xmerchant"}`, "incomplete"},
		{"malformed body", http.StatusOK, `nope`, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.httpStatus)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewServiceClient(server.URL, nil)
			_, err := client.SignPayment(context.Background(), SignPaymentRequest{AmountUSD: "1"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantInErr)
		})
	}
}
