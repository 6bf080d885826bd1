package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/auth-api/internal/domain/entity"
	"github.com/yourusername/auth-api/internal/domain/repository"
	apperrors "github.com/yourusername/auth-api/internal/pkg/errors"
)

// emailPattern checks plausible form only; deliverability is the delivery
// channel's problem.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IdentityClaim is the input to challenge issuance.
type IdentityClaim struct {
	Email       string
	DisplayName string
}

// IssuedChallenge pairs the persisted challenge with the plaintext code.
// The code exists only here and in the delivery transcript.
type IssuedChallenge struct {
	Challenge *entity.Challenge
	Code      string
}

const issuerLockStripes = 64

// IssuerService creates challenges and hands the code to the delivery channel.
// Issuance for a single email is serialized through a lock keyed by email, so
// supersede-then-create cannot interleave and leave two pending challenges;
// the partial unique index on pending email guards the same invariant across
// processes.
type IssuerService struct {
	challengeRepo  repository.ChallengeRepository
	cacheRepo      repository.CacheRepository
	emailService   EmailService
	challengeTTL   time.Duration
	resendCooldown time.Duration
	maxAttempts    int
	codePepper     string

	locks [issuerLockStripes]sync.Mutex
}

func NewIssuerService(
	challengeRepo repository.ChallengeRepository,
	cacheRepo repository.CacheRepository,
	emailService EmailService,
	challengeTTL time.Duration,
	resendCooldown time.Duration,
	maxAttempts int,
	codePepper string,
) (*IssuerService, error) {
	if challengeRepo == nil {
		return nil, fmt.Errorf("challenge repository is required")
	}
	if emailService == nil {
		return nil, fmt.Errorf("email service is required")
	}
	if challengeTTL <= 0 {
		challengeTTL = 10 * time.Minute
	}
	if resendCooldown <= 0 {
		resendCooldown = 60 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &IssuerService{
		challengeRepo:  challengeRepo,
		cacheRepo:      cacheRepo,
		emailService:   emailService,
		challengeTTL:   challengeTTL,
		resendCooldown: resendCooldown,
		maxAttempts:    maxAttempts,
		codePepper:     codePepper,
	}, nil
}

// Issue validates the identity claim, supersedes any pending challenge for
// the same email and creates a fresh one. Re-issuing after a verified
// challenge is allowed and simply starts a new authentication.
func (s *IssuerService) Issue(ctx context.Context, identity IdentityClaim) (*IssuedChallenge, error) {
	email := normalizeEmail(identity.Email)
	if email == "" || !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: implausible email address", ErrInvalidIdentity)
	}

	if err := s.checkResendCooldown(email); err != nil {
		return nil, err
	}

	// Supersede и create для одного email идут под общим замком, иначе два
	// конкурентных вызова оставили бы два pending challenge.
	lock := s.lockFor(email)
	lock.Lock()
	defer lock.Unlock()

	code, err := generateChallengeCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge code: %w", err)
	}
	salt, err := generateCodeSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code salt: %w", err)
	}

	now := time.Now()
	challenge := &entity.Challenge{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(identity.DisplayName),
		CodeHash:     hashChallengeCode(code, salt, s.codePepper),
		CodeSalt:     salt,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.challengeTTL),
		AttemptCount: 0,
		MaxAttempts:  s.maxAttempts,
		Status:       entity.ChallengeStatusPending,
		LastSentAt:   now,
	}

	for attempt := 0; ; attempt++ {
		superseded, err := s.challengeRepo.SupersedePendingByEmail(email)
		if err != nil {
			return nil, fmt.Errorf("failed to supersede pending challenges: %w", err)
		}
		if superseded > 0 {
			log.Printf("[IssuerService] superseded %d pending challenge(s) for email=%s", superseded, email)
		}

		err = s.challengeRepo.Create(challenge)
		if err == nil {
			break
		}
		// Нарушение уникального индекса: другой экземпляр вставил pending
		// challenge между supersede и create. Вытесняем и его.
		if errors.Is(err, apperrors.ErrConflict) && attempt < 2 {
			continue
		}
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	s.dispatchCode(challenge, code)

	return &IssuedChallenge{Challenge: challenge, Code: code}, nil
}

// checkResendCooldown is fail-open: a cache outage must not block issuance.
func (s *IssuerService) checkResendCooldown(email string) error {
	if s.cacheRepo == nil {
		return nil
	}
	key := "challenge:cooldown:" + email
	set, err := s.cacheRepo.SetNX(key, time.Now().Unix(), s.resendCooldown)
	if err != nil {
		log.Printf("[IssuerService] cooldown check failed for email=%s: %v (allowing)", email, err)
		return nil
	}
	if !set {
		// Остаток окна попадает в ошибку, чтобы клиент знал, сколько ждать
		if ttl, ttlErr := s.cacheRepo.TTL(key); ttlErr == nil && ttl > 0 {
			return fmt.Errorf("%w: retry in %d seconds", ErrResendCooldown, int(ttl.Seconds()))
		}
		return fmt.Errorf("%w: please wait before requesting a new code", ErrResendCooldown)
	}
	return nil
}

func (s *IssuerService) lockFor(email string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	return &s.locks[h.Sum32()%issuerLockStripes]
}

// dispatchCode hands the code to the delivery channel without blocking the
// caller. Delivery failure has no callback into the challenge flow.
func (s *IssuerService) dispatchCode(challenge *entity.Challenge, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		idempotencyKey := fmt.Sprintf("challenge:%s", challenge.ID)
		if err := s.emailService.SendVerificationCode(ctx, challenge.Email, code, s.challengeTTL, idempotencyKey); err != nil {
			log.Printf("[IssuerService] delivery failed for challenge=%s email=%s: %v", challenge.ID, challenge.Email, err)
			return
		}
		log.Printf("[IssuerService] code dispatched for challenge=%s email=%s", challenge.ID, challenge.Email)
	}()
}

// Cleanup deletes terminal challenges older than the cutoff. Optional
// housekeeping; correctness never depends on it because expiry is evaluated
// lazily at verification time.
func (s *IssuerService) Cleanup(cutoff time.Time) error {
	deleted, err := s.challengeRepo.DeleteResolvedBefore(cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("[IssuerService] cleaned up %d resolved challenge(s)", deleted)
	}
	return nil
}

func generateChallengeCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateCodeSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashChallengeCode(code, salt, pepper string) string {
	sum := sha256.Sum256([]byte(pepper + ":" + salt + ":" + code))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isNotFound keeps errors.Is noise out of call sites.
func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
