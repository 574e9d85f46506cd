package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func NewReferralCode() string {
	raw := make([]byte, 8)
	_, _ = rand.Read(raw)
	var sb strings.Builder
	sb.WriteString("KOECAN-")
	for _, b := range raw {
		sb.WriteByte(referralCodeAlphabet[int(b)%len(referralCodeAlphabet)])
	}
	return sb.String()
}

// EnsureMonitorProfile creates the profile row of a monitor on first contact.
// An existing row is left untouched.
func EnsureMonitorProfile(tx *gorm.DB, userID, name, email string) (models.MonitorProfile, error) {
	profile := models.MonitorProfile{
		UserID:       userID,
		Name:         name,
		Email:        email,
		ReferralCode: NewReferralCode(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&profile).Error; err != nil {
		return profile, err
	}
	if err := tx.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return profile, err
	}
	return profile, nil
}

func GetMonitorProfile(userID string) (models.MonitorProfile, error) {
	var profile models.MonitorProfile
	if err := database.C.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return profile, fmt.Errorf("%w: monitor profile", ErrNotFound)
		}
		return profile, err
	}
	return profile, nil
}

// SettlePoints credits the survey reward to the respondent and appends the
// ledger entry. It must run inside the transaction that stores the response.
func SettlePoints(tx *gorm.DB, userID string, survey models.Survey) (int, error) {
	if _, err := EnsureMonitorProfile(tx, userID, "", ""); err != nil {
		return 0, err
	}
	if err := tx.Model(&models.MonitorProfile{}).
		Where("user_id = ?", userID).
		Update("points", gorm.Expr("points + ?", survey.RewardPoints)).Error; err != nil {
		return 0, err
	}

	transaction := models.PointTransaction{
		UserID:      userID,
		Amount:      survey.RewardPoints,
		Reason:      models.PointReasonSurvey,
		Description: fmt.Sprintf("アンケート「%s」への回答", survey.Title),
		SurveyID:    lo.ToPtr(survey.ID),
		HappenedAt:  now(),
	}
	if err := tx.Create(&transaction).Error; err != nil {
		return 0, err
	}

	var profile models.MonitorProfile
	if err := tx.Select("points").Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return 0, err
	}
	return profile.Points, nil
}

func ListPointTransactions(userID string, take, offset int) ([]models.PointTransaction, int64, error) {
	if take <= 0 || take > 100 {
		take = 20
	}

	tx := database.C.Model(&models.PointTransaction{}).Where("user_id = ?", userID)

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	var transactions []models.PointTransaction
	if err := tx.
		Order("happened_at DESC").
		Limit(take).Offset(offset).
		Find(&transactions).Error; err != nil {
		return nil, count, err
	}
	return transactions, count, nil
}

type NotificationPreference struct {
	IsLineLinked *bool   `json:"is_line_linked"`
	LineUserID   *string `json:"line_user_id"`
	PushOptIn    *bool   `json:"push_opt_in"`
	PushToken    *string `json:"push_token"`
}

// UpdateNotificationPreference writes only the preference columns, the balance
// is never part of the statement.
func UpdateNotificationPreference(userID string, pref NotificationPreference) (models.MonitorProfile, error) {
	profile, err := EnsureMonitorProfile(database.C, userID, "", "")
	if err != nil {
		return profile, err
	}

	changes := map[string]any{}
	if pref.IsLineLinked != nil {
		changes["is_line_linked"] = *pref.IsLineLinked
		if !*pref.IsLineLinked {
			changes["line_user_id"] = ""
		}
	}
	if pref.LineUserID != nil {
		lineUserID := strings.TrimSpace(*pref.LineUserID)
		changes["line_user_id"] = lineUserID
		changes["is_line_linked"] = len(lineUserID) > 0
	}
	if pref.PushOptIn != nil {
		changes["push_opt_in"] = *pref.PushOptIn
	}
	if pref.PushToken != nil && len(*pref.PushToken) > 0 && !lo.Contains(profile.PushTokens, *pref.PushToken) {
		changes["push_tokens"] = datatypes.JSONSlice[string](append(lo.Compact([]string(profile.PushTokens)), *pref.PushToken))
	}
	if len(changes) == 0 {
		return profile, nil
	}

	if err := database.C.Model(&models.MonitorProfile{}).
		Where("user_id = ?", userID).
		Updates(changes).Error; err != nil {
		return profile, err
	}
	InvalidateDashboard(userID)
	return GetMonitorProfile(userID)
}

func RegenerateReferralCode(userID string) (string, error) {
	if _, err := EnsureMonitorProfile(database.C, userID, "", ""); err != nil {
		return "", err
	}

	code := NewReferralCode()
	if err := database.C.Model(&models.MonitorProfile{}).
		Where("user_id = ?", userID).
		Update("referral_code", code).Error; err != nil {
		return "", err
	}
	InvalidateDashboard(userID)
	return code, nil
}
