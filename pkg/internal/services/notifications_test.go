package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"git.koecan.jp/koecan/server/pkg/internal/services/fcm"
	"git.koecan.jp/koecan/server/pkg/internal/services/line"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCalls struct {
	mu    sync.Mutex
	line  [][]string
	push  [][]string
	paths []string
}

func (v *recordedCalls) lineRecipients() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, batch := range v.line {
		out = append(out, batch...)
	}
	sort.Strings(out)
	return out
}

func (v *recordedCalls) pushRecipients() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, batch := range v.push {
		out = append(out, batch...)
	}
	sort.Strings(out)
	return out
}

func startNotifiers(t *testing.T) *recordedCalls {
	t.Helper()
	calls := &recordedCalls{}

	lineServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload line.MulticastPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Bearer line-token", r.Header.Get("Authorization"))
		calls.mu.Lock()
		calls.line = append(calls.line, payload.To)
		calls.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	pushServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			RegistrationIDs []string `json:"registration_ids"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "key=server-key", r.Header.Get("Authorization"))
		calls.mu.Lock()
		calls.push = append(calls.push, payload.RegistrationIDs)
		calls.paths = append(calls.paths, r.URL.Path)
		calls.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(lineServer.Close)
	t.Cleanup(pushServer.Close)

	push, err := fcm.NewClient("", "", "server-key")
	require.NoError(t, err)
	push.Endpoint = pushServer.URL
	UseNotifiers(line.NewClient(lineServer.URL, "line-token"), push, nil)
	return calls
}

func seedMonitors(t *testing.T) {
	t.Helper()
	monitors := []models.MonitorProfile{
		{UserID: "m-1", ReferralCode: "KOECAN-AAAA0001", Email: "a@example.jp", IsLineLinked: true, LineUserID: "U1", PushOptIn: true, PushTokens: []string{"tok-1"}, Tags: []string{"student"}},
		{UserID: "m-2", ReferralCode: "KOECAN-AAAA0002", IsLineLinked: true, LineUserID: "U2", Tags: []string{"worker"}},
		{UserID: "m-3", ReferralCode: "KOECAN-AAAA0003", Email: "c@example.jp", PushOptIn: false, PushTokens: []string{"tok-3"}},
		{UserID: "m-4", ReferralCode: "KOECAN-AAAA0004", LineUserID: "U4", PushOptIn: true, PushTokens: []string{"tok-4a", "tok-4b"}, Tags: []string{"student"}},
	}
	require.NoError(t, database.C.Create(&monitors).Error)
}

func TestInitNotifiersKeepsOtherChannelsWhenPushFails(t *testing.T) {
	settings := map[string]string{
		"line.channel_token":   "line-token",
		"pex.base_url":         "https://pex.example.jp",
		"pex.api_key":          "pex-key",
		"fcm.credentials_file": "/nonexistent/service-account.json",
		"fcm.server_key":       "",
	}
	for key, value := range settings {
		viper.Set(key, value)
	}
	t.Cleanup(func() {
		for key := range settings {
			viper.Set(key, "")
		}
		UseNotifiers(nil, nil, nil)
	})

	err := InitNotifiers()
	assert.ErrorContains(t, err, "push notifications disabled")
	assert.Nil(t, pushClient)
	assert.True(t, lineClient.Configured())
	assert.True(t, pexClient.Configured())
	assert.True(t, NotifierEnabled())
}

func TestScheduleNotification(t *testing.T) {
	setupDatabase(t)
	calls := startNotifiers(t)
	seedMonitors(t)

	result, err := ScheduleNotification(NotificationRequest{
		Channel: models.DeliveryChannelLine,
		Title:   "新着案件",
		Body:    "新しいアンケートが公開されました",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recipients)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, []string{"U1", "U2"}, calls.lineRecipients())

	result, err = ScheduleNotification(NotificationRequest{
		Channel: models.DeliveryChannelPush,
		Title:   "新着案件",
		Body:    "新しいアンケートが公開されました",
		Cta:     "/surveys",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Recipients)
	assert.Equal(t, 3, result.Delivered)
	assert.Equal(t, []string{"tok-1", "tok-4a", "tok-4b"}, calls.pushRecipients())
	assert.Equal(t, []string{"/fcm/send"}, calls.paths)

	result, err = ScheduleNotification(NotificationRequest{
		Channel: models.DeliveryChannelEmail,
		Title:   "新着案件",
		Body:    "新しいアンケートが公開されました",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recipients)
	assert.Zero(t, result.Delivered)
}

func TestScheduleNotificationValidation(t *testing.T) {
	setupDatabase(t)

	_, err := ScheduleNotification(NotificationRequest{Channel: "fax", Title: "短", Body: "短い"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Len(t, validation.Problems, 3)
	assert.Contains(t, validation.Problems, "通知チャネルが不正です: fax")
}

func TestScheduleNotificationWithoutClients(t *testing.T) {
	setupDatabase(t)
	seedMonitors(t)

	result, err := ScheduleNotification(NotificationRequest{
		Channel: models.DeliveryChannelLine,
		Title:   "新着案件",
		Body:    "新しいアンケートが公開されました",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recipients)
	assert.Zero(t, result.Delivered)
}

func TestNotifyMonitorsFailureIsContained(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	UseNotifiers(line.NewClient(server.URL, "line-token"), nil, nil)
	t.Cleanup(func() { UseNotifiers(nil, nil, nil) })

	results := NotifyMonitors(
		[]models.MonitorProfile{{UserID: "m-1", IsLineLinked: true, LineUserID: "U1"}},
		[]string{models.DeliveryChannelLine, models.DeliveryChannelLine, models.DeliveryChannelPush},
		NotificationRequest{Title: "タイトル", Body: "本文です。"},
	)
	require.Len(t, results, 2)
	assert.Equal(t, NotificationResult{Channel: models.DeliveryChannelLine, Recipients: 1}, results[0])
	assert.Equal(t, NotificationResult{Channel: models.DeliveryChannelPush}, results[1])
}

func TestNotifySurveyPublished(t *testing.T) {
	setupDatabase(t)
	seedMonitors(t)
	survey := createSampleSurvey(t)
	calls := startNotifiers(t)

	survey.TargetTags = []string{"student"}
	require.NoError(t, NotifySurveyPublished(survey))

	assert.Equal(t, []string{"U1"}, calls.lineRecipients())
	assert.Equal(t, []string{"tok-1", "tok-4a", "tok-4b"}, calls.pushRecipients())
}

func TestNotifySurveyPublishedHonorsChannels(t *testing.T) {
	setupDatabase(t)
	seedMonitors(t)
	survey := createSampleSurvey(t)
	calls := startNotifiers(t)

	survey.DeliveryChannels = []string{models.DeliveryChannelPush}
	require.NoError(t, NotifySurveyPublished(survey))

	assert.Empty(t, calls.lineRecipients())
	assert.Equal(t, []string{"tok-1", "tok-4a", "tok-4b"}, calls.pushRecipients())
}

func TestPersistSurveyNotifiesMonitors(t *testing.T) {
	setupDatabase(t)
	seedMonitors(t)
	calls := startNotifiers(t)

	createSampleSurvey(t)

	assert.Eventually(t, func() bool {
		return len(calls.lineRecipients()) == 2 && len(calls.pushRecipients()) == 3
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewAnnouncement(t *testing.T) {
	setupDatabase(t)
	freezeTime(t, testNow)

	item, err := NewAnnouncement("春のキャンペーン", "期間中はポイントが2倍になります。", "", []string{models.AudienceMonitor, models.AudienceMonitor})
	require.NoError(t, err)
	assert.Equal(t, "campaign", item.Category)
	assert.Equal(t, []string{models.AudienceMonitor}, []string(item.Audience))

	_, err = NewAnnouncement("メンテ", "メンテナンスのお知らせです。", "maintenance", []string{models.AudienceClient})
	require.NoError(t, err)

	_, err = NewAnnouncement("短", "短い", "weather", []string{"everyone"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{
		"タイトルは3文字以上で入力してください",
		"本文は10文字以上で入力してください",
		"カテゴリが不正です: weather",
		"配信対象が不正です: everyone",
	}, validation.Problems)

	monitors, err := ListAnnouncements(models.AudienceMonitor, 0, 0)
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "春のキャンペーン", monitors[0].Title)

	all, err := ListAnnouncements("", 10, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFaqItems(t *testing.T) {
	setupDatabase(t)

	_, err := NewFaqItem("ポイントの有効期限は？", "最終獲得日から1年間です。", "points")
	require.NoError(t, err)
	_, err = NewFaqItem("退会するには？", "設定画面から手続きできます。", "account")
	require.NoError(t, err)

	_, err = NewFaqItem("短い", "短い", "unknown")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Len(t, validation.Problems, 3)

	items, err := ListFaqItems("")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "account", items[0].Category)

	items, err = ListFaqItems("points")
	require.NoError(t, err)
	require.Len(t, items, 1)
}
