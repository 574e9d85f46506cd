package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"git.koecan.jp/koecan/server/pkg/internal/metrics"
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"git.koecan.jp/koecan/server/pkg/internal/services/pex"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

const exchangeProvider = "PeX API"

func exchangeMinimumPoints() int {
	if minimum := viper.GetInt("exchange.minimum_points"); minimum > 0 {
		return minimum
	}
	return 500
}

type ExchangeResult struct {
	Request models.ExchangeRequest `json:"request"`
	Balance int                    `json:"balance"`
	Message string                 `json:"message"`
}

// RequestExchange spends points on a partner reward. The balance only drops
// when it covers the whole amount, the partner call happens after commit.
func RequestExchange(userID, rewardID string, points int) (ExchangeResult, error) {
	var result ExchangeResult

	problems := &ValidationError{}
	if len(rewardID) == 0 {
		problems.add("交換先を選択してください")
	}
	if minimum := exchangeMinimumPoints(); points < minimum {
		problems.add("%dpt以上の交換が必要です。", minimum)
	}
	if err := problems.orNil(); err != nil {
		return result, err
	}

	request := models.ExchangeRequest{
		UserID:      userID,
		RewardID:    rewardID,
		PointsUsed:  points,
		Provider:    exchangeProvider,
		Status:      models.ExchangeStatusProcessing,
		RequestedAt: now(),
	}

	var balance int
	err := database.C.Transaction(func(tx *gorm.DB) error {
		spend := tx.Model(&models.MonitorProfile{}).
			Where("user_id = ? AND points >= ?", userID, points).
			Update("points", gorm.Expr("points - ?", points))
		if spend.Error != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, spend.Error)
		}
		if spend.RowsAffected == 0 {
			return ErrInsufficientPoints
		}

		if err := tx.Create(&models.PointTransaction{
			UserID:      userID,
			Amount:      -points,
			Reason:      models.PointReasonExchange,
			Description: fmt.Sprintf("ポイント交換「%s」", rewardID),
			HappenedAt:  now(),
		}).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if err := tx.Create(&request).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		var profile models.MonitorProfile
		if err := tx.Select("points").Where("user_id = ?", userID).First(&profile).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		balance = profile.Points
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientPoints) {
			log.Error().Err(err).Str("user", userID).Msg("An error occurred when requesting point exchange...")
		}
		return result, err
	}

	metrics.PointsCredited.WithLabelValues(models.PointReasonExchange).Add(float64(points))
	InvalidateDashboard(userID)

	result = ExchangeResult{Request: request, Balance: balance, Message: "交換処理を受け付けました。"}
	if !pexClient.Configured() {
		log.Warn().Str("request", request.ID).Msg("Point exchange partner is not configured, request left processing.")
		return result, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	receipt, err := pexClient.RequestExchange(ctx, pex.ExchangePayload{
		UserID:   userID,
		RewardID: rewardID,
		Points:   points,
	})
	if err != nil {
		log.Error().Err(err).Str("request", request.ID).Msg("An error occurred when calling point exchange partner...")
		return result, nil
	}

	if len(receipt.ID) > 0 {
		request.ExternalID = lo.ToPtr(receipt.ID)
	}
	if receipt.Status == models.ExchangeStatusCompleted {
		request.Status = models.ExchangeStatusCompleted
	}
	if err := database.C.Model(&request).Select("external_id", "status").Updates(&request).Error; err != nil {
		log.Error().Err(err).Str("request", request.ID).Msg("An error occurred when saving exchange receipt...")
	}
	result.Request = request
	result.Message = "外部APIと連携し、交換処理を開始しました。"
	return result, nil
}

func ListExchangeRequests(userID string, status string, take, offset int) ([]models.ExchangeRequest, int64, error) {
	if take <= 0 || take > 100 {
		take = 20
	}

	tx := database.C.Model(&models.ExchangeRequest{})
	if len(userID) > 0 {
		tx = tx.Where("user_id = ?", userID)
	}
	if len(status) > 0 {
		tx = tx.Where("status = ?", status)
	}

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	var requests []models.ExchangeRequest
	if err := tx.Order("requested_at DESC").Limit(take).Offset(offset).Find(&requests).Error; err != nil {
		return nil, count, err
	}
	return requests, count, nil
}

// SettleExchange finishes a processing request. A failed exchange gives the
// spent points back to the monitor.
func SettleExchange(id string, status string) (models.ExchangeRequest, error) {
	var request models.ExchangeRequest
	if !lo.Contains([]string{models.ExchangeStatusCompleted, models.ExchangeStatusFailed}, status) {
		return request, NewValidationError(fmt.Sprintf("交換ステータスが不正です: %s", status))
	}

	err := database.C.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: exchange request %s", ErrNotFound, id)
			}
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if request.Status != models.ExchangeStatusProcessing {
			return NewValidationError("処理中の交換のみ更新できます")
		}

		update := tx.Model(&models.ExchangeRequest{}).
			Where("id = ? AND status = ?", id, models.ExchangeStatusProcessing).
			Update("status", status)
		if update.Error != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, update.Error)
		}
		if update.RowsAffected == 0 {
			return NewValidationError("処理中の交換のみ更新できます")
		}
		request.Status = status

		if status != models.ExchangeStatusFailed {
			return nil
		}
		if err := tx.Model(&models.MonitorProfile{}).
			Where("user_id = ?", request.UserID).
			Update("points", gorm.Expr("points + ?", request.PointsUsed)).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if err := tx.Create(&models.PointTransaction{
			UserID:      request.UserID,
			Amount:      request.PointsUsed,
			Reason:      models.PointReasonExchange,
			Description: fmt.Sprintf("ポイント交換「%s」の返還", request.RewardID),
			HappenedAt:  now(),
		}).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return request, err
	}

	InvalidateDashboard(request.UserID)
	return request, nil
}
