package services

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"git.koecan.jp/koecan/server/pkg/internal/services/pex"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grantPoints(t *testing.T, userID string, points int) {
	t.Helper()
	_, err := EnsureMonitorProfile(database.C, userID, "", "")
	require.NoError(t, err)
	require.NoError(t, database.C.Model(&models.MonitorProfile{}).Where("user_id = ?", userID).Update("points", points).Error)
}

func TestRequestExchange(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)
	grantPoints(t, "monitor-1", 800)

	result, err := RequestExchange("monitor-1", "amazon-500", 500)
	require.NoError(t, err)
	assert.Equal(t, 300, result.Balance)
	assert.Equal(t, models.ExchangeStatusProcessing, result.Request.Status)

	var transactions []models.PointTransaction
	require.NoError(t, database.C.Where("user_id = ?", "monitor-1").Find(&transactions).Error)
	require.Len(t, transactions, 1)
	assert.Equal(t, -500, transactions[0].Amount)
	assert.Equal(t, models.PointReasonExchange, transactions[0].Reason)
}

func TestRequestExchangeRejections(t *testing.T) {
	setupDatabase(t)
	grantPoints(t, "monitor-1", 600)

	_, err := RequestExchange("monitor-1", "amazon", 499)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Problems, "500pt以上の交換が必要です。")

	_, err = RequestExchange("monitor-1", "amazon", 700)
	assert.True(t, errors.Is(err, ErrInsufficientPoints))

	_, err = RequestExchange("nobody", "amazon", 500)
	assert.True(t, errors.Is(err, ErrInsufficientPoints))

	profile, err := GetMonitorProfile("monitor-1")
	require.NoError(t, err)
	assert.Equal(t, 600, profile.Points)

	var requests int64
	require.NoError(t, database.C.Model(&models.ExchangeRequest{}).Count(&requests).Error)
	assert.Zero(t, requests)
}

func TestRequestExchangeNeverOverdraws(t *testing.T) {
	setupDatabase(t)
	grantPoints(t, "monitor-1", 1200)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for idx := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = RequestExchange("monitor-1", "amazon", 500)
		}(idx)
	}
	wg.Wait()

	assert.Equal(t, 2, lo.CountBy(errs, func(err error) bool { return err == nil }))
	assert.Equal(t, 2, lo.CountBy(errs, func(err error) bool { return errors.Is(err, ErrInsufficientPoints) }))

	profile, err := GetMonitorProfile("monitor-1")
	require.NoError(t, err)
	assert.Equal(t, 200, profile.Points)
}

func TestRequestExchangeCallsPartner(t *testing.T) {
	setupDatabase(t)
	grantPoints(t, "monitor-1", 500)

	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		assert.Equal(t, "/exchange", r.URL.Path)
		assert.Equal(t, "Bearer pex-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"pex-42","status":"completed"}`))
	}))
	defer server.Close()
	UseNotifiers(nil, nil, pex.NewClient(server.URL, "pex-key", "https://koecan.example/callback"))

	result, err := RequestExchange("monitor-1", "amazon", 500)
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusCompleted, result.Request.Status)
	require.NotNil(t, result.Request.ExternalID)
	assert.Equal(t, "pex-42", *result.Request.ExternalID)
	assert.JSONEq(t, `{"userId":"monitor-1","rewardId":"amazon","points":500,"callbackUrl":"https://koecan.example/callback"}`, body)

	items, _, err := ListExchangeRequests("monitor-1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ExchangeStatusCompleted, items[0].Status)
}

func TestRequestExchangePartnerFailureKeepsRequest(t *testing.T) {
	setupDatabase(t)
	grantPoints(t, "monitor-1", 500)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	UseNotifiers(nil, nil, pex.NewClient(server.URL, "pex-key", ""))

	result, err := RequestExchange("monitor-1", "amazon", 500)
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusProcessing, result.Request.Status)
	assert.Equal(t, 0, result.Balance)
}

func TestSettleExchange(t *testing.T) {
	setupDatabase(t)
	grantPoints(t, "monitor-1", 1000)

	first, err := RequestExchange("monitor-1", "amazon", 500)
	require.NoError(t, err)
	second, err := RequestExchange("monitor-1", "amazon", 500)
	require.NoError(t, err)

	request, err := SettleExchange(first.Request.ID, models.ExchangeStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.ExchangeStatusCompleted, request.Status)

	_, err = SettleExchange(second.Request.ID, models.ExchangeStatusFailed)
	require.NoError(t, err)

	profile, err := GetMonitorProfile("monitor-1")
	require.NoError(t, err)
	assert.Equal(t, 500, profile.Points)

	_, err = SettleExchange(second.Request.ID, models.ExchangeStatusCompleted)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = SettleExchange("missing", models.ExchangeStatusCompleted)
	assert.True(t, errors.Is(err, ErrNotFound))
}
