// Package services implements the license lifecycle engine: request
// submission, admin-gated issuance, verification and revocation. All
// business invariants live here; transport stays thin.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "keygated/internal/errors"
	"keygated/internal/keygen"
	"keygated/internal/ledger"
)

// LicenseService drives the request→approval→issuance state machine.
type LicenseService interface {
	// SubmitRequest records a pending license request and returns its id.
	SubmitRequest(ctx context.Context, in SubmitInput) (string, error)

	// ListRequests returns the full ledger state for administrator review.
	ListRequests(ctx context.Context) (*LedgerView, error)

	// GenerateKey derives and issues the key for a hardware identifier,
	// optionally marking the linked request issued.
	GenerateKey(ctx context.Context, hardwareID, requestID string) (string, error)

	// VerifyKey reports whether key is the valid license key for the
	// hardware identifier.
	VerifyKey(ctx context.Context, key, hardwareID string) (bool, error)

	// RevokeKey marks an issued key revoked. Returns ErrKeyNotFound when
	// the key has never been issued.
	RevokeKey(ctx context.Context, key string) error
}

// SubmitInput is the payload for a license request submission.
type SubmitInput struct {
	HardwareID string
	UserID     string
	UserName   string
	Note       string
}

// LedgerView is the administrator-facing snapshot of the ledger.
type LedgerView struct {
	Requests []ledger.Request            `json:"requests"`
	Issued   map[string]ledger.IssuedKey `json:"issued"`
}

// Options tunes engine behavior.
type Options struct {
	// EnforceRevocation makes VerifyKey consult the issuance ledger and
	// reject keys whose record is revoked. Off by default: the baseline
	// contract is stateless recompute-and-compare, and revocation is
	// visible only in the administrative record.
	EnforceRevocation bool
}

type licenseService struct {
	store   *ledger.Store
	deriver *keygen.Deriver
	logger  *slog.Logger
	metrics *Metrics
	opts    Options

	now func() time.Time
}

// NewLicenseService creates the lifecycle engine. The ledger store is
// injected: the engine owns all mutation but not the store's lifecycle.
func NewLicenseService(store *ledger.Store, deriver *keygen.Deriver, logger *slog.Logger, metrics *Metrics, opts Options) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &licenseService{
		store:   store,
		deriver: deriver,
		logger:  logger.With(slog.String("service", "license")),
		metrics: metrics,
		opts:    opts,
		now:     time.Now,
	}
}

func (s *licenseService) SubmitRequest(ctx context.Context, in SubmitInput) (string, error) {
	tracer := otel.Tracer("license-service")
	ctx, span := tracer.Start(ctx, "license_service.submit_request",
		trace.WithAttributes(attribute.String("operation", "submit_request")))
	defer span.End()

	if in.HardwareID == "" {
		span.SetAttributes(attribute.String("error.type", "validation"))
		return "", fmt.Errorf("submit request: %w", apperrors.ErrMissingHardwareID)
	}

	id := s.newRequestID()
	req := ledger.Request{
		ID:         id,
		HardwareID: in.HardwareID,
		UserID:     in.UserID,
		UserName:   in.UserName,
		Note:       in.Note,
		CreatedAt:  s.now().UTC(),
		Status:     ledger.StatusPending,
	}

	if err := s.store.AppendRequest(req); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("submit request: %w", err)
	}

	s.metrics.RequestsSubmitted.Inc()
	s.logger.InfoContext(ctx, "license request stored",
		slog.String("request_id", id),
		slog.String("hardware_id", in.HardwareID),
		slog.String("user_name", in.UserName))

	span.SetAttributes(attribute.String("license.request_id", id))
	return id, nil
}

func (s *licenseService) ListRequests(ctx context.Context) (*LedgerView, error) {
	doc := s.store.Snapshot()

	s.logger.DebugContext(ctx, "ledger listed",
		slog.Int("requests", len(doc.Requests)),
		slog.Int("issued", len(doc.Issued)))

	return &LedgerView{
		Requests: doc.Requests,
		Issued:   doc.Issued,
	}, nil
}

func (s *licenseService) GenerateKey(ctx context.Context, hardwareID, requestID string) (string, error) {
	tracer := otel.Tracer("license-service")
	ctx, span := tracer.Start(ctx, "license_service.generate_key",
		trace.WithAttributes(
			attribute.String("operation", "generate_key"),
			attribute.Bool("license.has_request_id", requestID != ""),
		))
	defer span.End()

	if hardwareID == "" {
		span.SetAttributes(attribute.String("error.type", "validation"))
		return "", fmt.Errorf("generate key: %w", apperrors.ErrMissingHardwareID)
	}

	key := s.deriver.Derive(hardwareID)

	// The overwrite resets Revoked: re-generating a key for previously
	// revoked hardware is an explicit administrator action, treated as
	// intentional reinstatement.
	rec := ledger.IssuedKey{
		Key:        key,
		HardwareID: hardwareID,
		IssuedAt:   s.now().UTC(),
		RequestID:  requestID,
	}

	// A mismatched or stale requestID never fails the operation; the
	// derived key is valid independent of which request prompted it.
	if err := s.store.RecordIssuance(rec, requestID); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("generate key: %w", err)
	}

	s.metrics.KeysIssued.Inc()
	s.logger.InfoContext(ctx, "license key issued",
		slog.String("hardware_id", hardwareID),
		slog.String("request_id", requestID),
		slog.String("key_prefix", keyPrefix(key)))

	return key, nil
}

func (s *licenseService) VerifyKey(ctx context.Context, key, hardwareID string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("verify key: %w", apperrors.ErrMissingKey)
	}
	if hardwareID == "" {
		return false, fmt.Errorf("verify key: %w", apperrors.ErrMissingHardwareID)
	}

	valid := s.deriver.Matches(key, hardwareID)

	if valid && s.opts.EnforceRevocation {
		doc := s.store.Snapshot()
		if rec, ok := doc.Issued[keygen.Normalize(key)]; ok && rec.Revoked {
			valid = false
			s.logger.WarnContext(ctx, "revoked key presented for verification",
				slog.String("hardware_id", hardwareID),
				slog.String("key_prefix", keyPrefix(key)))
		}
	}

	s.metrics.Verifications.WithLabelValues(verifyResult(valid)).Inc()
	s.logger.InfoContext(ctx, "license key verified",
		slog.String("hardware_id", hardwareID),
		slog.Bool("valid", valid))

	return valid, nil
}

func (s *licenseService) RevokeKey(ctx context.Context, key string) error {
	tracer := otel.Tracer("license-service")
	ctx, span := tracer.Start(ctx, "license_service.revoke_key",
		trace.WithAttributes(attribute.String("operation", "revoke_key")))
	defer span.End()

	if key == "" {
		span.SetAttributes(attribute.String("error.type", "validation"))
		return fmt.Errorf("revoke key: %w", apperrors.ErrMissingKey)
	}

	found, err := s.store.Revoke(key)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoke key: %w", err)
	}
	if !found {
		span.SetAttributes(attribute.String("error.type", "not_found"))
		return fmt.Errorf("revoke key %s: %w", keyPrefix(key), apperrors.ErrKeyNotFound)
	}

	s.metrics.KeysRevoked.Inc()
	s.logger.InfoContext(ctx, "license key revoked",
		slog.String("key_prefix", keyPrefix(key)))

	return nil
}

// newRequestID builds a collision-resistant identifier: base36 timestamp
// plus a short random suffix. Uniqueness, not unpredictability, is the
// requirement.
func (s *licenseService) newRequestID() string {
	ts := strconv.FormatInt(s.now().UnixMilli(), 36)
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return ts + "-" + uuid.NewString()[:6]
	}
	return ts + "-" + hex.EncodeToString(suffix)
}

// keyPrefix truncates a key for logging; full keys never reach the logs.
func keyPrefix(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "****"
}

func verifyResult(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
