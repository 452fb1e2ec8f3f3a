package services

import (
	"errors"

	"academix_backend/backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the production SessionStore backed by Postgres.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) TestByID(id uint) (*models.Test, error) {
	var test models.Test
	err := s.DB.
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Sections").
		First(&test, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &test, nil
}

func (s *GormStore) UserByID(id uint) (*models.User, error) {
	var user models.User
	err := s.DB.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) SessionByID(id uuid.UUID) (*models.TestSession, error) {
	var sess models.TestSession
	err := s.DB.First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *GormStore) ActiveSession(testID, studentID uint) (*models.TestSession, error) {
	var sess models.TestSession
	err := s.DB.
		Where("test_id = ? AND student_id = ? AND status NOT IN ?",
			testID, studentID, []models.SessionStatus{models.SessionSubmitted, models.SessionGraded}).
		Order("attempt_number DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *GormStore) AttemptsUsed(testID, studentID uint) (int, error) {
	var count int64
	err := s.DB.Model(&models.TestSession{}).
		Where("test_id = ? AND student_id = ?", testID, studentID).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) CreateSession(sess *models.TestSession) error {
	return s.DB.Create(sess).Error
}

func (s *GormStore) SaveSession(sess *models.TestSession) error {
	return s.DB.Save(sess).Error
}

func (s *GormStore) OpenSessions() ([]models.TestSession, error) {
	var sessions []models.TestSession
	err := s.DB.
		Where("status NOT IN ?", []models.SessionStatus{models.SessionSubmitted, models.SessionGraded}).
		Find(&sessions).Error
	return sessions, err
}

func (s *GormStore) UpsertAnswer(ans *models.SessionAnswer) error {
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "question_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"selected_key", "time_spent", "section", "updated_at",
		}),
	}).Create(ans).Error
}

func (s *GormStore) AnswersBySession(id uuid.UUID) ([]models.SessionAnswer, error) {
	var answers []models.SessionAnswer
	err := s.DB.
		Where("session_id = ?", id).
		Order("question_number ASC").
		Find(&answers).Error
	return answers, err
}

func (s *GormStore) CreateResult(res *models.TestResult) error {
	return s.DB.Create(res).Error
}

func (s *GormStore) ResultBySession(id uuid.UUID) (*models.TestResult, error) {
	var res models.TestResult
	err := s.DB.First(&res, "session_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GormStore) ExtraAttempts(testID, studentID uint) (int, error) {
	var grant models.RetakeGrant
	err := s.DB.Where("test_id = ? AND student_id = ?", testID, studentID).First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return grant.ExtraAttempts, nil
}

func (s *GormStore) AddExtraAttempt(testID, studentID, grantedBy uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var grant models.RetakeGrant
		err := tx.Where("test_id = ? AND student_id = ?", testID, studentID).First(&grant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			grant = models.RetakeGrant{TestID: testID, StudentID: studentID, ExtraAttempts: 1, GrantedBy: grantedBy}
			return tx.Create(&grant).Error
		}
		if err != nil {
			return err
		}
		grant.ExtraAttempts++
		grant.GrantedBy = grantedBy
		return tx.Save(&grant).Error
	})
}

func (s *GormStore) CreateAnalytics(row *models.TestAnalytics) error {
	return s.DB.Create(row).Error
}
