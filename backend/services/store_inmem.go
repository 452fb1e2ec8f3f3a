package services

import (
	"errors"
	"sort"
	"sync"

	"academix_backend/backend/models"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded SessionStore used by the test suites.
type MemoryStore struct {
	mu        sync.RWMutex
	tests     map[uint]*models.Test
	users     map[uint]*models.User
	sessions  map[uuid.UUID]*models.TestSession
	answers   map[uuid.UUID]map[int]*models.SessionAnswer
	results   map[uuid.UUID]*models.TestResult
	grants    map[[2]uint]int
	analytics []models.TestAnalytics
	nextID    uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tests:    map[uint]*models.Test{},
		users:    map[uint]*models.User{},
		sessions: map[uuid.UUID]*models.TestSession{},
		answers:  map[uuid.UUID]map[int]*models.SessionAnswer{},
		results:  map[uuid.UUID]*models.TestResult{},
		grants:   map[[2]uint]int{},
		nextID:   1,
	}
}

// PutTest registers a test definition fixture.
func (m *MemoryStore) PutTest(test *models.Test) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if test.ID == 0 {
		test.ID = m.nextID
		m.nextID++
	}
	m.tests[test.ID] = test
}

// PutUser registers a user fixture.
func (m *MemoryStore) PutUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == 0 {
		user.ID = m.nextID
		m.nextID++
	}
	m.users[user.ID] = user
}

func (m *MemoryStore) TestByID(id uint) (*models.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	test, ok := m.tests[id]
	if !ok {
		return nil, nil
	}
	copied := *test
	return &copied, nil
}

func (m *MemoryStore) UserByID(id uint) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (m *MemoryStore) SessionByID(id uuid.UUID) (*models.TestSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (m *MemoryStore) ActiveSession(testID, studentID uint) (*models.TestSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.TestSession
	for _, sess := range m.sessions {
		if sess.TestID != testID || sess.StudentID != studentID || sess.Status.Terminal() {
			continue
		}
		if latest == nil || sess.AttemptNumber > latest.AttemptNumber {
			latest = sess
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *MemoryStore) AttemptsUsed(testID, studentID uint) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, sess := range m.sessions {
		if sess.TestID == testID && sess.StudentID == studentID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateSession(sess *models.TestSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *sess
	m.sessions[sess.ID] = &copied
	return nil
}

func (m *MemoryStore) SaveSession(sess *models.TestSession) error {
	return m.CreateSession(sess)
}

func (m *MemoryStore) OpenSessions() ([]models.TestSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []models.TestSession
	for _, sess := range m.sessions {
		if !sess.Status.Terminal() {
			open = append(open, *sess)
		}
	}
	return open, nil
}

func (m *MemoryStore) UpsertAnswer(ans *models.SessionAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQuestion, ok := m.answers[ans.SessionID]
	if !ok {
		byQuestion = map[int]*models.SessionAnswer{}
		m.answers[ans.SessionID] = byQuestion
	}
	copied := *ans
	byQuestion[ans.QuestionNumber] = &copied
	return nil
}

func (m *MemoryStore) AnswersBySession(id uuid.UUID) ([]models.SessionAnswer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byQuestion := m.answers[id]
	answers := make([]models.SessionAnswer, 0, len(byQuestion))
	for _, ans := range byQuestion {
		answers = append(answers, *ans)
	}
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].QuestionNumber < answers[j].QuestionNumber
	})
	return answers, nil
}

func (m *MemoryStore) CreateResult(res *models.TestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.results[res.SessionID]; exists {
		return errors.New("result already persisted for session")
	}
	copied := *res
	m.results[res.SessionID] = &copied
	return nil
}

func (m *MemoryStore) ResultBySession(id uuid.UUID) (*models.TestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[id]
	if !ok {
		return nil, nil
	}
	copied := *res
	return &copied, nil
}

func (m *MemoryStore) ExtraAttempts(testID, studentID uint) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grants[[2]uint{testID, studentID}], nil
}

func (m *MemoryStore) AddExtraAttempt(testID, studentID, grantedBy uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[[2]uint{testID, studentID}]++
	return nil
}

func (m *MemoryStore) CreateAnalytics(row *models.TestAnalytics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analytics = append(m.analytics, *row)
	return nil
}

// Analytics returns the recorded analytics rows.
func (m *MemoryStore) Analytics() []models.TestAnalytics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.TestAnalytics(nil), m.analytics...)
}
