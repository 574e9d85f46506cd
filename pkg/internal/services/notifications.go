package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/metrics"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"git.koecan.jp/koecan/server/pkg/internal/services/fcm"
	"git.koecan.jp/koecan/server/pkg/internal/services/line"
	"git.koecan.jp/koecan/server/pkg/internal/services/pex"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var (
	lineClient *line.Client
	pushClient *fcm.Client
	pexClient  *pex.Client
)

// InitNotifiers builds the outbound clients from settings. A channel without
// credentials stays disabled and is skipped when notifying. A broken push
// setup only disables push, the returned error names it.
func InitNotifiers() error {
	lineClient = line.NewClient(viper.GetString("line.endpoint"), viper.GetString("line.channel_token"))
	pexClient = pex.NewClient(
		viper.GetString("pex.base_url"),
		viper.GetString("pex.api_key"),
		viper.GetString("pex.callback_url"),
	)

	client, err := fcm.NewClient(
		viper.GetString("fcm.project_id"),
		viper.GetString("fcm.credentials_file"),
		viper.GetString("fcm.server_key"),
	)
	if err != nil {
		pushClient = nil
		err = fmt.Errorf("push notifications disabled: %v", err)
	} else {
		pushClient = client
	}

	log.Info().
		Bool("line", lineClient.Configured()).
		Bool("push", pushClient.Configured()).
		Bool("pex", pexClient.Configured()).
		Msg("Outbound integrations initialized.")
	return err
}

// UseNotifiers swaps the outbound clients, nil disables the channel.
func UseNotifiers(l *line.Client, p *fcm.Client, x *pex.Client) {
	lineClient, pushClient, pexClient = l, p, x
}

func NotifierEnabled() bool {
	return lineClient.Configured() || pushClient.Configured()
}

type NotificationRequest struct {
	Channel string `json:"channel" validate:"required,oneof=line push email"`
	Title   string `json:"title" validate:"required,min=3"`
	Body    string `json:"body" validate:"required,min=5"`
	Cta     string `json:"cta"`
}

type NotificationResult struct {
	Channel    string `json:"channel"`
	Recipients int    `json:"recipients"`
	Delivered  int    `json:"delivered"`
}

func (v NotificationRequest) text() string {
	text := v.Title + "\n" + v.Body
	if len(v.Cta) > 0 {
		text += "\n" + v.Cta
	}
	return text
}

func (v NotificationRequest) validate() error {
	problems := &ValidationError{}
	if !lo.Contains([]string{models.DeliveryChannelLine, models.DeliveryChannelPush, models.DeliveryChannelEmail}, v.Channel) {
		problems.add("通知チャネルが不正です: %s", v.Channel)
	}
	if len([]rune(strings.TrimSpace(v.Title))) < 3 {
		problems.add("タイトルは3文字以上で入力してください")
	}
	if len([]rune(strings.TrimSpace(v.Body))) < 5 {
		problems.add("本文は5文字以上で入力してください")
	}
	return problems.orNil()
}

func listLineRecipients(monitors []models.MonitorProfile) []string {
	return lo.FilterMap(monitors, func(item models.MonitorProfile, _ int) (string, bool) {
		return item.LineUserID, item.IsLineLinked && len(item.LineUserID) > 0
	})
}

func listPushRecipients(monitors []models.MonitorProfile) []string {
	return lo.FlatMap(monitors, func(item models.MonitorProfile, _ int) []string {
		return lo.Ternary(item.PushOptIn, []string(item.PushTokens), nil)
	})
}

func deliver(ctx context.Context, channel string, monitors []models.MonitorProfile, req NotificationRequest) NotificationResult {
	result := NotificationResult{Channel: channel}

	var (
		delivered int
		err       error
	)
	switch channel {
	case models.DeliveryChannelLine:
		recipients := listLineRecipients(monitors)
		result.Recipients = len(recipients)
		if !lineClient.Configured() || len(recipients) == 0 {
			return result
		}
		delivered, err = lineClient.Multicast(ctx, recipients, req.text())
	case models.DeliveryChannelPush:
		recipients := listPushRecipients(monitors)
		result.Recipients = len(recipients)
		if !pushClient.Configured() || len(recipients) == 0 {
			return result
		}
		delivered, err = pushClient.Send(ctx, recipients, fcm.Notification{
			Title: req.Title,
			Body:  req.Body,
			Data:  lo.Ternary(len(req.Cta) > 0, map[string]string{"cta": req.Cta}, nil),
		})
	case models.DeliveryChannelEmail:
		result.Recipients = len(lo.Filter(monitors, func(item models.MonitorProfile, _ int) bool {
			return len(item.Email) > 0
		}))
		log.Info().Str("title", req.Title).Int("recipients", result.Recipients).Msg("Email notification is not delivered, logged only.")
		return result
	}

	result.Delivered = delivered
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(channel, "failed").Inc()
		log.Warn().Err(err).Str("channel", channel).Msg("An error occurred when delivering notification...")
		return result
	}
	metrics.NotificationsSent.WithLabelValues(channel, "delivered").Add(float64(delivered))
	return result
}

// NotifyMonitors fans one message out over the channels concurrently. Failures
// are logged and never returned.
func NotifyMonitors(monitors []models.MonitorProfile, channels []string, req NotificationRequest) []NotificationResult {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	channels = lo.Uniq(channels)
	results := make([]NotificationResult, len(channels))

	var wg sync.WaitGroup
	for idx, channel := range channels {
		wg.Add(1)
		go func(idx int, channel string) {
			defer wg.Done()
			results[idx] = deliver(ctx, channel, monitors, req)
		}(idx, channel)
	}
	wg.Wait()

	return results
}

func ListMonitorProfiles() ([]models.MonitorProfile, error) {
	var monitors []models.MonitorProfile
	if err := database.C.Find(&monitors).Error; err != nil {
		return nil, err
	}
	return monitors, nil
}

func ScheduleNotification(req NotificationRequest) (NotificationResult, error) {
	if err := req.validate(); err != nil {
		return NotificationResult{Channel: req.Channel}, err
	}

	monitors, err := ListMonitorProfiles()
	if err != nil {
		return NotificationResult{Channel: req.Channel}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return NotifyMonitors(monitors, []string{req.Channel}, req)[0], nil
}

// NotifySurveyPublished tells targeted monitors that a survey opened, through
// the survey delivery channels or every channel when none is set.
func NotifySurveyPublished(survey models.Survey) error {
	monitors, err := ListMonitorProfiles()
	if err != nil {
		return err
	}
	monitors = lo.Filter(monitors, func(item models.MonitorProfile, _ int) bool {
		return len(survey.TargetTags) == 0 || len(lo.Intersect(survey.TargetTags, item.Tags)) > 0
	})
	if len(monitors) == 0 {
		return nil
	}

	channels := []string(survey.DeliveryChannels)
	if len(channels) == 0 {
		channels = []string{models.DeliveryChannelLine, models.DeliveryChannelPush}
	}

	NotifyMonitors(monitors, channels, NotificationRequest{
		Title: "新しいアンケートが届きました",
		Body:  fmt.Sprintf("「%s」に回答して%dptを獲得しましょう", survey.Title, survey.RewardPoints),
		Cta:   fmt.Sprintf("/surveys/%s", survey.ID),
	})
	return nil
}
