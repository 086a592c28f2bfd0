package services

import (
	"context"
	"fmt"
	"time"

	"course-progression/logger"
	"course-progression/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CertificateService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewCertificateService(db *gorm.DB, log *logger.Logger) *CertificateService {
	return &CertificateService{DB: db, log: log.With("service", "CertificateService")}
}

// CertificateCode is the course slug plus a short random suffix.
func CertificateCode(course *models.Course) string {
	base := course.Slug
	if base == "" {
		base = slug.Make(course.Title)
	}
	if base == "" {
		base = slug.Make(course.ID)
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

// IssueTx awards the course certificate once; repeated calls are no-ops.
func (s *CertificateService) IssueTx(tx *gorm.DB, externalUserID string, course *models.Course, now time.Time) (*models.Certificate, error) {
	cert := models.Certificate{
		UserID:      externalUserID,
		CourseID:    course.ID,
		Code:        CertificateCode(course),
		CourseTitle: course.Title,
		IssuedAt:    now.UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoNothing: true,
	}).Create(&cert)
	if res.Error != nil {
		return nil, fmt.Errorf("issue certificate %s/%s: %w", externalUserID, course.ID, res.Error)
	}

	var stored models.Certificate
	if err := tx.Where("user_id = ? AND course_id = ?", externalUserID, course.ID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload certificate %s/%s: %w", externalUserID, course.ID, err)
	}
	if res.RowsAffected > 0 {
		s.log.Info("certificate issued", "user_id", externalUserID, "course_id", course.ID, "code", stored.Code)
	}
	return &stored, nil
}

func (s *CertificateService) ListForUser(ctx context.Context, externalUserID string) ([]models.Certificate, error) {
	var certs []models.Certificate
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", externalUserID).
		Order("issued_at DESC").
		Find(&certs).Error; err != nil {
		return nil, fmt.Errorf("list certificates for %s: %w", externalUserID, err)
	}
	return certs, nil
}
