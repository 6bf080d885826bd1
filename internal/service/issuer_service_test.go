package service

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/auth-api/internal/domain/entity"
	"github.com/yourusername/auth-api/internal/domain/repository"
	apperrors "github.com/yourusername/auth-api/internal/pkg/errors"
)

// ============================================================================
// Тесты для IssuerService
// ============================================================================

func createTestIssuerService(t *testing.T, repo *MockChallengeRepository, cache *MockCacheRepository, email *MockEmailService) *IssuerService {
	t.Helper()
	// Типизированный nil в интерфейсе не равен nil, поэтому передаем
	// интерфейсное значение только при наличии мока
	var cacheRepo repository.CacheRepository
	if cache != nil {
		cacheRepo = cache
	}
	issuer, err := NewIssuerService(
		repo,
		cacheRepo,
		email,
		10*time.Minute,
		60*time.Second,
		5,
		testCodePepper,
	)
	require.NoError(t, err)
	return issuer
}

func TestIssuerService_Issue_Success(t *testing.T) {
	// Arrange
	mockRepo := new(MockChallengeRepository)
	mockEmail := new(MockEmailService)

	mockRepo.On("SupersedePendingByEmail", "user@example.com").Return(int64(0), nil)
	mockRepo.On("Create", mock.AnythingOfType("*entity.Challenge")).Return(nil)
	// Доставка уходит в фоне и может не успеть до конца теста
	mockEmail.On("SendVerificationCode", mock.Anything, "user@example.com", mock.AnythingOfType("string"), 10*time.Minute, mock.AnythingOfType("string")).Return(nil).Maybe()

	issuer := createTestIssuerService(t, mockRepo, nil, mockEmail)

	// Act
	issued, err := issuer.Issue(context.Background(), IdentityClaim{Email: "User@Example.com ", DisplayName: " User "})

	// Assert
	require.NoError(t, err, "Выпуск challenge должен быть успешным")
	require.NotNil(t, issued)

	challenge := issued.Challenge
	assert.Equal(t, "user@example.com", challenge.Email, "Email нормализуется")
	assert.Equal(t, "User", challenge.DisplayName)
	assert.Equal(t, entity.ChallengeStatusPending, challenge.Status)
	assert.Equal(t, 5, challenge.MaxAttempts)
	assert.Equal(t, 0, challenge.AttemptCount)
	assert.NotEmpty(t, challenge.ID)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), challenge.ExpiresAt, 5*time.Second)

	// Код шестизначный и соответствует сохраненному хешу
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), issued.Code)
	assert.Equal(t, hashChallengeCode(issued.Code, challenge.CodeSalt, testCodePepper), challenge.CodeHash)
	assert.NotContains(t, challenge.CodeHash, issued.Code, "Код не хранится в открытом виде")

	mockRepo.AssertExpectations(t)
}

func TestIssuerService_Issue_InvalidEmail(t *testing.T) {
	// Arrange
	mockRepo := new(MockChallengeRepository)
	mockEmail := new(MockEmailService)
	issuer := createTestIssuerService(t, mockRepo, nil, mockEmail)

	invalidEmails := []string{"", "   ", "not-an-email", "missing@tld", "two@@example.com", "sp ace@example.com"}
	for _, email := range invalidEmails {
		// Act
		issued, err := issuer.Issue(context.Background(), IdentityClaim{Email: email})

		// Assert
		assert.ErrorIs(t, err, ErrInvalidIdentity, "email=%q должен отклоняться", email)
		assert.Nil(t, issued)
	}

	// Хранилище не трогается при невалидной идентичности
	mockRepo.AssertNotCalled(t, "Create", mock.Anything)
	mockRepo.AssertNotCalled(t, "SupersedePendingByEmail", mock.Anything)
}

func TestIssuerService_Issue_SupersedesPending(t *testing.T) {
	// Повторный выпуск вытесняет предыдущий pending challenge
	mockRepo := new(MockChallengeRepository)
	mockEmail := new(MockEmailService)

	mockRepo.On("SupersedePendingByEmail", "user@example.com").Return(int64(1), nil)
	mockRepo.On("Create", mock.AnythingOfType("*entity.Challenge")).Return(nil)
	mockEmail.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	issuer := createTestIssuerService(t, mockRepo, nil, mockEmail)

	issued, err := issuer.Issue(context.Background(), IdentityClaim{Email: "user@example.com"})

	require.NoError(t, err)
	require.NotNil(t, issued)
	mockRepo.AssertExpectations(t)
}

func TestIssuerService_Issue_UniqueCodesAndSalts(t *testing.T) {
	// Два выпуска дают разные challenge id и соли
	mockRepo := new(MockChallengeRepository)
	mockEmail := new(MockEmailService)

	mockRepo.On("SupersedePendingByEmail", "user@example.com").Return(int64(0), nil)
	mockRepo.On("Create", mock.AnythingOfType("*entity.Challenge")).Return(nil)
	mockEmail.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	issuer := createTestIssuerService(t, mockRepo, nil, mockEmail)

	first, err := issuer.Issue(context.Background(), IdentityClaim{Email: "user@example.com"})
	require.NoError(t, err)
	second, err := issuer.Issue(context.Background(), IdentityClaim{Email: "user@example.com"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Challenge.ID, second.Challenge.ID)
	assert.NotEqual(t, first.Challenge.CodeSalt, second.Challenge.CodeSalt)
}

func TestIssuerService_Issue_ResendCooldown(t *testing.T) {
	// Arrange
	mockRepo := new(MockChallengeRepository)
	mockCache := new(MockCacheRepository)
	mockEmail := new(MockEmailService)

	mockCache.On("SetNX", "challenge:cooldown:user@example.com", mock.Anything, 60*time.Second).Return(false, nil)
	mockCache.On("TTL", "challenge:cooldown:user@example.com").Return(45*time.Second, nil)

	issuer := createTestIssuerService(t, mockRepo, mockCache, mockEmail)

	// Act
	issued, err := issuer.Issue(context.Background(), IdentityClaim{Email: "user@example.com"})

	// Assert
	assert.ErrorIs(t, err, ErrResendCooldown)
	assert.Contains(t, err.Error(), "45", "Ошибка сообщает остаток окна ожидания")
	assert.Nil(t, issued)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything)
	mockCache.AssertExpectations(t)
}

func TestIssuerService_Issue_CooldownFailOpen(t *testing.T) {
	// Сбой кеша не блокирует выпуск
	mockRepo := new(MockChallengeRepository)
	mockCache := new(MockCacheRepository)
	mockEmail := new(MockEmailService)

	mockCache.On("SetNX", mock.Anything, mock.Anything, mock.Anything).Return(false, fmt.Errorf("redis unavailable"))
	mockRepo.On("SupersedePendingByEmail", "user@example.com").Return(int64(0), nil)
	mockRepo.On("Create", mock.AnythingOfType("*entity.Challenge")).Return(nil)
	mockEmail.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	issuer := createTestIssuerService(t, mockRepo, mockCache, mockEmail)

	issued, err := issuer.Issue(context.Background(), IdentityClaim{Email: "user@example.com"})

	require.NoError(t, err, "Недоступность кеша не должна блокировать выпуск")
	require.NotNil(t, issued)
	mockRepo.AssertExpectations(t)
}

func TestIssuerService_Issue_CreateFails(t *testing.T) {
	// Arrange
	mockRepo := new(MockChallengeRepository)
	mockEmail := new(MockEmailService)

	mockRepo.On("SupersedePendingByEmail", "user@example.com").Return(int64(0), nil)
	mockRepo.On("Create", mock.AnythingOfType("*entity.Challenge")).Return(fmt.Errorf("db is down"))

	issuer := createTestIssuerService(t, mockRepo, nil, mockEmail)

	// Act
	issued, err := issuer.Issue(context.Background(), IdentityClaim{Email: "user@example.com"})

	// Assert
	assert.Error(t, err)
	assert.Nil(t, issued)
	// Код не отправляется, если challenge не сохранен
	mockEmail.AssertNotCalled(t, "SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// countingChallengeRepo — потокобезопасное in-memory хранилище, воспроизводящее
// частичный уникальный индекс по pending email. Каждый метод атомарен сам по
// себе, но supersede и create нарочно разделены окном.
type countingChallengeRepo struct {
	mu      sync.Mutex
	pending map[string]int
}

func newCountingChallengeRepo() *countingChallengeRepo {
	return &countingChallengeRepo{pending: make(map[string]int)}
}

func (r *countingChallengeRepo) Create(c *entity.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[c.Email] > 0 {
		return apperrors.ErrConflict
	}
	r.pending[c.Email]++
	return nil
}

func (r *countingChallengeRepo) GetByID(id string) (*entity.Challenge, error) {
	return nil, apperrors.ErrNotFound
}

func (r *countingChallengeRepo) SupersedePendingByEmail(email string) (int64, error) {
	r.mu.Lock()
	count := int64(r.pending[email])
	r.pending[email] = 0
	r.mu.Unlock()
	// Окно между supersede и create, в котором проявлялось чередование
	time.Sleep(2 * time.Millisecond)
	return count, nil
}

func (r *countingChallengeRepo) IncrementAttempts(id string) (int, error) {
	return 0, apperrors.ErrNotFound
}

func (r *countingChallengeRepo) TransitionStatus(id, from, to string) error {
	return apperrors.ErrConflict
}

func (r *countingChallengeRepo) DeleteResolvedBefore(cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *countingChallengeRepo) pendingCount(email string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[email]
}

func TestIssuerService_Issue_ConcurrentSameEmail(t *testing.T) {
	// Конкурентные выпуски для одного email не должны оставлять больше
	// одного pending challenge
	repo := newCountingChallengeRepo()
	mockEmail := new(MockEmailService)
	mockEmail.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	issuer, err := NewIssuerService(repo, nil, mockEmail, 10*time.Minute, 60*time.Second, 5, testCodePepper)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = issuer.Issue(context.Background(), IdentityClaim{Email: "a@x.com"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "вызов %d должен быть успешным", i)
	}
	assert.Equal(t, 1, repo.pendingCount("a@x.com"), "Не более одного pending challenge на email")
}

func TestIssuerService_Issue_RetriesOnPendingConflict(t *testing.T) {
	// Другой экземпляр вставил pending между supersede и create:
	// выпуск вытесняет и его, затем повторяет вставку
	mockRepo := new(MockChallengeRepository)
	mockEmail := new(MockEmailService)

	mockRepo.On("SupersedePendingByEmail", "user@example.com").Return(int64(0), nil).Once()
	mockRepo.On("SupersedePendingByEmail", "user@example.com").Return(int64(1), nil).Once()
	mockRepo.On("Create", mock.AnythingOfType("*entity.Challenge")).Return(apperrors.ErrConflict).Once()
	mockRepo.On("Create", mock.AnythingOfType("*entity.Challenge")).Return(nil).Once()
	mockEmail.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	issuer := createTestIssuerService(t, mockRepo, nil, mockEmail)

	issued, err := issuer.Issue(context.Background(), IdentityClaim{Email: "user@example.com"})

	require.NoError(t, err)
	require.NotNil(t, issued)
	mockRepo.AssertNumberOfCalls(t, "SupersedePendingByEmail", 2)
	mockRepo.AssertNumberOfCalls(t, "Create", 2)
}

func TestIssuerService_Cleanup(t *testing.T) {
	// Arrange
	mockRepo := new(MockChallengeRepository)
	mockEmail := new(MockEmailService)
	cutoff := time.Now().Add(-24 * time.Hour)

	mockRepo.On("DeleteResolvedBefore", cutoff).Return(int64(3), nil)

	issuer := createTestIssuerService(t, mockRepo, nil, mockEmail)

	// Act
	err := issuer.Cleanup(cutoff)

	// Assert
	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestGenerateChallengeCode_Format(t *testing.T) {
	// Сгенерированный код всегда ровно 6 цифр, включая ведущие нули
	for i := 0; i < 100; i++ {
		code, err := generateChallengeCode()
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	}
}

func TestHashChallengeCode_Deterministic(t *testing.T) {
	h1 := hashChallengeCode("123456", "salt", "pepper")
	h2 := hashChallengeCode("123456", "salt", "pepper")
	assert.Equal(t, h1, h2)

	// Другая соль или pepper дают другой хеш
	assert.NotEqual(t, h1, hashChallengeCode("123456", "other", "pepper"))
	assert.NotEqual(t, h1, hashChallengeCode("123456", "salt", "other"))
}
