package biz

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"flightwatch/internal/conf"
	"flightwatch/internal/data"
	"flightwatch/pkg/crypto"
	pkgerrors "flightwatch/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Registration outcome errors the transport layer maps to status codes.
var (
	// ErrAlreadyRegistered means the email, codice fiscale or IBAN is
	// already taken by a different registration.
	ErrAlreadyRegistered = errors.New("user already registered")
	// ErrPayloadMismatch means a request reused an idempotency identifier
	// with a different payload.
	ErrPayloadMismatch = errors.New("request identifier was already used with a different payload")
	// ErrUserNotFound means no registered user matches the email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidInput means a required registration field is missing.
	ErrInvalidInput = errors.New("invalid registration input")
)

// RegisterRequest carries the registration input.
// RequestID is optional: when the client does not supply one, a
// deterministic identifier is derived from the identifying fields, so
// blind retries of the same registration stay idempotent anyway.
type RegisterRequest struct {
	Email         string
	Nome          string
	Cognome       string
	CodiceFiscale string
	IBAN          string
	RequestID     string
	// CallerID is the network-level origin of the request. It scopes the
	// idempotency key so identical identifiers from different callers
	// never collide.
	CallerID string
}

// RegisterResult is the stored outcome of a registration.
type RegisterResult struct {
	StatusCode int
	Response   string
	// Replayed is true when the result came from the idempotency cache
	// rather than a fresh registration.
	Replayed bool
}

// RegistrationUsecase implements user registration with an idempotency
// cache, plus the principal lookups other services rely on.
type RegistrationUsecase struct {
	users  UserRepo
	idem   IdempotencyRepo
	crypto *crypto.AESCrypto
	ttl    time.Duration
	logger *log.Helper
}

// NewRegistrationUsecase creates a registration usecase.
func NewRegistrationUsecase(users UserRepo, idem IdempotencyRepo, aes *crypto.AESCrypto, c *conf.Idempotency, logger log.Logger) *RegistrationUsecase {
	return &RegistrationUsecase{
		users:  users,
		idem:   idem,
		crypto: aes,
		ttl:    c.Ttl.AsDuration(),
		logger: log.NewHelper(logger),
	}
}

// Register processes a registration request exactly once per identifier.
//
// A replay with the same identifier and the same payload returns the
// stored response. The same identifier with a different payload is
// ErrPayloadMismatch. A fresh request creates the user, stores the
// response, and returns it.
func (uc *RegistrationUsecase) Register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = DeriveRequestID(req.Email, req.CodiceFiscale, req.IBAN)
	}
	key := IdempotencyKey(req.CallerID, requestID)
	digest := PayloadDigest(req)

	if prior, err := uc.idem.Get(ctx, key); err == nil {
		if prior.BodyDigest != digest {
			uc.logger.Warnw("idempotency identifier reused with different payload",
				"request_id", requestID)
			return nil, ErrPayloadMismatch
		}
		uc.logger.Infow("replaying registration response",
			"request_id", requestID,
			"status", prior.StatusCode)
		return &RegisterResult{
			StatusCode: prior.StatusCode,
			Response:   prior.Response,
			Replayed:   true,
		}, nil
	} else if !pkgerrors.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check idempotency cache: %w", err)
	}

	encrypted, err := uc.crypto.Encrypt(req.IBAN)
	if err != nil {
		uc.logger.Errorf("failed to encrypt IBAN: %v", err)
		return nil, fmt.Errorf("failed to encrypt credentials")
	}

	user := &data.User{
		Email:         req.Email,
		Nome:          req.Nome,
		Cognome:       req.Cognome,
		CodiceFiscale: strings.ToUpper(req.CodiceFiscale),
		IBANEncrypted: encrypted,
		IBANHash:      hashIBAN(req.IBAN),
		RequestID:     requestID,
	}

	response, err := json.Marshal(map[string]string{
		"email":   user.Email,
		"nome":    user.Nome,
		"cognome": user.Cognome,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration response: %w", err)
	}

	rec := &data.IdempotencyRecord{
		Key:        key,
		RequestID:  requestID,
		BodyDigest: digest,
		StatusCode: 201,
		Response:   string(response),
	}
	// User and record commit together: a retry after a crash either finds
	// both (replay) or neither (clean re-run), never a user without its
	// stored response. Losing the key race to a concurrent twin hands back
	// the twin's committed record instead.
	saved, err := uc.users.CreateUserWithRecord(ctx, user, rec)
	if err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	return &RegisterResult{
		StatusCode: saved.StatusCode,
		Response:   saved.Response,
		Replayed:   saved != rec,
	}, nil
}

// VerifyPrincipal reports whether the email belongs to a registered user.
func (uc *RegistrationUsecase) VerifyPrincipal(ctx context.Context, email string) (bool, error) {
	return uc.users.ExistsUser(ctx, email)
}

// ListPrincipals returns every registered user.
func (uc *RegistrationUsecase) ListPrincipals(ctx context.Context) ([]*data.User, error) {
	return uc.users.ListUsers(ctx)
}

// GetPrincipal returns the shareable profile of a user.
func (uc *RegistrationUsecase) GetPrincipal(ctx context.Context, email string) (*data.User, error) {
	user, err := uc.users.GetUser(ctx, email)
	if err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// PurgeExpired drops idempotency records past their TTL. Runs on a
// schedule from the user-manager's cron.
func (uc *RegistrationUsecase) PurgeExpired(ctx context.Context) (int64, error) {
	return uc.idem.PurgeExpired(ctx, time.Now().Add(-uc.ttl))
}

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func validateRegistration(req *RegisterRequest) error {
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	case req.Nome == "" || req.Cognome == "":
		return fmt.Errorf("%w: nome and cognome are required", ErrInvalidInput)
	case len(req.CodiceFiscale) != 16:
		return fmt.Errorf("%w: codice fiscale must be 16 characters", ErrInvalidInput)
	case req.IBAN == "":
		return fmt.Errorf("%w: iban is required", ErrInvalidInput)
	case req.RequestID != "" && !requestIDPattern.MatchString(req.RequestID):
		return fmt.Errorf("%w: request identifier is malformed", ErrInvalidInput)
	}
	return nil
}

// DeriveRequestID builds the fallback idempotency identifier for clients
// that do not send one: the MD5 of the identifying fields. MD5 is an
// identifier here, not a security boundary.
func DeriveRequestID(email, codiceFiscale, iban string) string {
	sum := md5.Sum([]byte(email + "-" + strings.ToUpper(codiceFiscale) + "-" + iban))
	return hex.EncodeToString(sum[:])
}

// PayloadDigest fingerprints the full registration payload so a reused
// identifier with edited fields is detectable.
func PayloadDigest(req *RegisterRequest) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		req.Email, req.Nome, req.Cognome, strings.ToUpper(req.CodiceFiscale), req.IBAN,
	}, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// hashIBAN produces the deterministic digest backing the IBAN uniqueness
// constraint.
func hashIBAN(iban string) string {
	sum := sha256.Sum256([]byte(iban))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey combines the caller identity with the request identifier
// so identical identifiers from different callers map to distinct records.
func IdempotencyKey(callerID, requestID string) string {
	sum := sha256.Sum256([]byte(callerID + "\x1f" + requestID))
	return hex.EncodeToString(sum[:])
}
