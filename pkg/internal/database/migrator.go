package database

import (
	"git.koecan.jp/koecan/server/pkg/internal/models"
	"gorm.io/gorm"
)

var AutoMaintainRange = []any{
	&models.Survey{},
	&models.SurveyQuestion{},
	&models.SurveyOption{},
	&models.SurveyResponse{},
	&models.SurveyAnswer{},
	&models.SurveyAnswerOption{},
	&models.MonitorProfile{},
	&models.PointTransaction{},
	&models.ExchangeRequest{},
	&models.Announcement{},
	&models.FaqItem{},
}

func RunMigration(source *gorm.DB) error {
	if err := source.AutoMigrate(AutoMaintainRange...); err != nil {
		return err
	}

	return nil
}
