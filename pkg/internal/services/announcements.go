package services

import (
	"fmt"
	"strings"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	AnnouncementCategories = []string{"survey", "campaign", "system", "maintenance"}
	Audiences              = []string{models.AudienceMonitor, models.AudienceClient, models.AudienceAdmin, models.AudienceSupport}
	FaqCategories          = []string{"account", "survey", "points", "technical", "referral"}
)

func NewAnnouncement(title, body, category string, audience []string) (models.Announcement, error) {
	item := models.Announcement{
		Title:    strings.TrimSpace(title),
		Body:     strings.TrimSpace(body),
		Category: lo.Ternary(len(category) > 0, category, "campaign"),
		Audience: lo.Uniq(audience),
	}

	problems := &ValidationError{}
	if len([]rune(item.Title)) < 3 {
		problems.add("タイトルは3文字以上で入力してください")
	}
	if len([]rune(item.Body)) < 10 {
		problems.add("本文は10文字以上で入力してください")
	}
	if !lo.Contains(AnnouncementCategories, item.Category) {
		problems.add("カテゴリが不正です: %s", item.Category)
	}
	if len(item.Audience) == 0 {
		problems.add("配信対象を選択してください")
	} else if unknown, _ := lo.Difference(item.Audience, Audiences); len(unknown) > 0 {
		problems.add("配信対象が不正です: %s", strings.Join(unknown, ", "))
	}
	if err := problems.orNil(); err != nil {
		return item, err
	}

	item.PublishedAt = now()
	if err := database.C.Create(&item).Error; err != nil {
		return item, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if lo.Contains(item.Audience, models.AudienceMonitor) && NotifierEnabled() {
		go func() {
			monitors, err := ListMonitorProfiles()
			if err != nil {
				log.Warn().Err(err).Msg("An error occurred when loading monitors for announcement...")
				return
			}
			NotifyMonitors(monitors, []string{models.DeliveryChannelLine, models.DeliveryChannelPush}, NotificationRequest{
				Title: item.Title,
				Body:  item.Body,
			})
		}()
	}

	return item, nil
}

func ListAnnouncements(audience string, take, offset int) ([]models.Announcement, error) {
	if take <= 0 || take > 100 {
		take = 20
	}

	var items []models.Announcement
	if err := database.C.
		Order("published_at DESC").
		Find(&items).Error; err != nil {
		return nil, err
	}

	// Audience is a JSON column, filtered here to stay portable across drivers.
	if len(audience) > 0 {
		items = lo.Filter(items, func(item models.Announcement, _ int) bool {
			return lo.Contains(item.Audience, audience)
		})
	}
	if offset >= len(items) {
		return []models.Announcement{}, nil
	}
	return items[offset:min(offset+take, len(items))], nil
}

func NewFaqItem(question, answer, category string) (models.FaqItem, error) {
	item := models.FaqItem{
		Question: strings.TrimSpace(question),
		Answer:   strings.TrimSpace(answer),
		Category: category,
	}

	problems := &ValidationError{}
	if len([]rune(item.Question)) < 5 {
		problems.add("質問は5文字以上で入力してください")
	}
	if len([]rune(item.Answer)) < 5 {
		problems.add("回答は5文字以上で入力してください")
	}
	if !lo.Contains(FaqCategories, item.Category) {
		problems.add("カテゴリが不正です: %s", item.Category)
	}
	if err := problems.orNil(); err != nil {
		return item, err
	}

	if err := database.C.Create(&item).Error; err != nil {
		return item, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return item, nil
}

func ListFaqItems(category string) ([]models.FaqItem, error) {
	tx := database.C.Order("category ASC, created_at ASC")
	if len(category) > 0 {
		tx = tx.Where("category = ?", category)
	}

	var items []models.FaqItem
	if err := tx.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
