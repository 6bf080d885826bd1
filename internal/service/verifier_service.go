package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/auth-api/internal/domain/entity"
	"github.com/yourusername/auth-api/internal/domain/repository"
	apperrors "github.com/yourusername/auth-api/internal/pkg/errors"
	"github.com/yourusername/auth-api/pkg/auth"
)

const verifierLockStripes = 64

// VerifierService checks submitted codes against recorded challenges and
// issues sessions. Verification of a single challenge is serialized through
// a lock keyed by challenge id; status transitions in the store are
// additionally conditional, so concurrent verifies cannot both succeed.
type VerifierService struct {
	challengeRepo  repository.ChallengeRepository
	sessionService *auth.SessionService
	codePepper     string

	// Bypass allow-list: identities verified without a code. Explicit
	// configuration, normalized at construction, logged on every use.
	bypassIdentities map[string]struct{}

	locks [verifierLockStripes]sync.Mutex
}

func NewVerifierService(
	challengeRepo repository.ChallengeRepository,
	sessionService *auth.SessionService,
	codePepper string,
	bypassIdentities []string,
) (*VerifierService, error) {
	if challengeRepo == nil {
		return nil, fmt.Errorf("challenge repository is required")
	}
	if sessionService == nil {
		return nil, fmt.Errorf("session service is required")
	}

	bypass := make(map[string]struct{}, len(bypassIdentities))
	for _, identity := range bypassIdentities {
		email := normalizeEmail(identity)
		if email != "" {
			bypass[email] = struct{}{}
		}
	}

	return &VerifierService{
		challengeRepo:    challengeRepo,
		sessionService:   sessionService,
		codePepper:       codePepper,
		bypassIdentities: bypass,
	}, nil
}

// Verify applies the decision sequence in order, short-circuiting:
// bypass allow-list, existence, resolution state, expiry, attempt budget,
// code match. On success the challenge becomes verified and a session bound
// to the challenge email is returned.
func (s *VerifierService) Verify(challengeID, submittedCode, claimedEmail string) (*entity.Session, error) {
	claimedEmail = normalizeEmail(claimedEmail)

	if _, ok := s.bypassIdentities[claimedEmail]; ok {
		return s.verifyBypass(challengeID, claimedEmail)
	}

	lock := s.lockFor(challengeID)
	lock.Lock()
	defer lock.Unlock()

	challenge, err := s.challengeRepo.GetByID(challengeID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}

	if !challenge.IsPending() {
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	if challenge.IsExpired(now) {
		if err := s.transition(challenge.ID, entity.ChallengeStatusExpired); err != nil {
			return nil, err
		}
		return nil, ErrChallengeExpired
	}

	attempts, err := s.challengeRepo.IncrementAttempts(challenge.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count verification attempt: %w", err)
	}
	if attempts > challenge.MaxAttempts {
		if err := s.transition(challenge.ID, entity.ChallengeStatusExhausted); err != nil {
			return nil, err
		}
		return nil, ErrTooManyAttempts
	}

	expectedHash := hashChallengeCode(submittedCode, challenge.CodeSalt, s.codePepper)
	if subtle.ConstantTimeCompare([]byte(expectedHash), []byte(challenge.CodeHash)) != 1 {
		// Challenge stays pending; the attempt is already counted.
		return nil, ErrCodeMismatch
	}

	if err := s.transition(challenge.ID, entity.ChallengeStatusVerified); err != nil {
		return nil, err
	}

	session, err := s.sessionService.Issue(challenge.Email, challenge.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	log.Printf("[VerifierService] challenge=%s verified for email=%s", challenge.ID, challenge.Email)
	return session, nil
}

// verifyBypass succeeds without a code for the configured operator
// identities. The referenced challenge, if any, is resolved best-effort.
func (s *VerifierService) verifyBypass(challengeID, email string) (*entity.Session, error) {
	log.Printf("[VerifierService] bypass verification used for email=%s challenge=%q", email, challengeID)

	displayName := ""
	if challengeID != "" {
		if challenge, err := s.challengeRepo.GetByID(challengeID); err == nil {
			displayName = challenge.DisplayName
			if challenge.IsPending() {
				if err := s.transition(challenge.ID, entity.ChallengeStatusVerified); err != nil && !errors.Is(err, ErrAlreadyResolved) {
					log.Printf("[VerifierService] failed to resolve challenge=%s during bypass: %v", challenge.ID, err)
				}
			}
		}
	}

	session, err := s.sessionService.Issue(email, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	return session, nil
}

// transition moves a pending challenge into a terminal status. A CAS
// conflict means another call resolved it first.
func (s *VerifierService) transition(challengeID, to string) error {
	err := s.challengeRepo.TransitionStatus(challengeID, entity.ChallengeStatusPending, to)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return ErrAlreadyResolved
		}
		return fmt.Errorf("failed to transition challenge status: %w", err)
	}
	return nil
}

func (s *VerifierService) lockFor(challengeID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(challengeID)))
	return &s.locks[h.Sum32()%verifierLockStripes]
}
