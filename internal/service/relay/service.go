// Package relay implements the result relay: it resolves an access token,
// pulls the run's knowledge graph and metrics documents from their services,
// pins both to IPFS and records the resulting hashes as a test run.
//
// Both the HTTP API and the MCP server delegate to this service.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Marshal-AM/fireglobe/internal/authz"
	"github.com/Marshal-AM/fireglobe/internal/ctxutil"
	"github.com/Marshal-AM/fireglobe/internal/ipfs"
	"github.com/Marshal-AM/fireglobe/internal/model"
	"github.com/Marshal-AM/fireglobe/internal/storage"
	"github.com/Marshal-AM/fireglobe/internal/telemetry"
)

// ErrInvalidToken is returned when the access token matches no user.
var ErrInvalidToken = authz.ErrInvalidToken

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("relay: validation failed")

// ValidationError is a client input problem. Message is safe to return to
// the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// OperationError is a failed fetch, upload or insert. Op names the step in
// the form the HTTP layer reports it ("KG upload").
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string { return e.Op + " failed: " + e.Err.Error() }

func (e *OperationError) Unwrap() error { return e.Err }

// Store is the persistence the relay needs. *storage.DB satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	CreateTestRun(ctx context.Context, userID, kgHash, metricsHash string) (model.TestRun, error)
	ListTestRunsByUser(ctx context.Context, userID string) ([]model.TestRun, error)
	GetTestRun(ctx context.Context, runID uuid.UUID) (model.TestRun, error)
	AttachRewardTx(ctx context.Context, runID uuid.UUID, txHash string) (model.TestRun, error)
	SetWalletAddress(ctx context.Context, userID, address string) (model.User, error)
}

// Authenticator resolves access tokens. *authz.TokenCache satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Documents fetches the two documents of a run. *sources.Fetcher satisfies it.
type Documents interface {
	FetchKG(ctx context.Context, conversationID string) (json.RawMessage, error)
	FetchMetrics(ctx context.Context) (json.RawMessage, error)
}

// Config wires a Service.
type Config struct {
	Store   Store
	Auth    Authenticator
	Sources Documents
	Content ipfs.Store

	// GatewayURL prefixes /ipfs/<hash> in returned URLs.
	GatewayURL string
	// BackendURL and MetricsURL are only reported by Health.
	BackendURL string
	MetricsURL string

	Version string
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service is the relay's business logic.
type Service struct {
	store      Store
	auth       Authenticator
	sources    Documents
	content    ipfs.Store
	gateway    string
	backendURL string
	metricsURL string
	version    string
	logger     *slog.Logger
	now        func() time.Time
	startedAt  time.Time

	uploads     metric.Int64Counter
	uploadBytes metric.Int64Counter
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	meter := telemetry.Meter("fireglobe/relay")
	uploads, _ := meter.Int64Counter("fireglobe.uploads",
		metric.WithDescription("Documents pinned to IPFS"),
	)
	uploadBytes, _ := meter.Int64Counter("fireglobe.upload.bytes",
		metric.WithDescription("Bytes pinned to IPFS"),
		metric.WithUnit("By"),
	)
	return &Service{
		store:       cfg.Store,
		auth:        cfg.Auth,
		sources:     cfg.Sources,
		content:     cfg.Content,
		gateway:     cfg.GatewayURL,
		backendURL:  cfg.BackendURL,
		metricsURL:  cfg.MetricsURL,
		version:     cfg.Version,
		logger:      logger,
		now:         now,
		startedAt:   now(),
		uploads:     uploads,
		uploadBytes: uploadBytes,
	}
}

// Authenticate returns the user id owning token.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", invalid("access_token is required")
	}
	userID, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("fireglobe.user_id", userID))
	ctxutil.SetUserID(ctx, userID)
	return userID, nil
}

// UploadKG pins the knowledge graph for conversationID (or the latest entry)
// and returns its hash. No test run is recorded; the caller follows up with
// UploadMetrics.
func (s *Service) UploadKG(ctx context.Context, req model.UploadKGRequest) (model.UploadKGResponse, error) {
	if err := model.ValidateConversationID(req.ConversationID); err != nil {
		return model.UploadKGResponse{}, invalid("%s", err.Error())
	}
	userID, err := s.Authenticate(ctx, req.AccessToken)
	if err != nil {
		return model.UploadKGResponse{}, err
	}

	doc, err := s.sources.FetchKG(ctx, req.ConversationID)
	if err != nil {
		return model.UploadKGResponse{}, &OperationError{Op: "KG fetch", Err: err}
	}
	obj, err := s.pin(ctx, "kg", userID, s.now(), doc)
	if err != nil {
		return model.UploadKGResponse{}, &OperationError{Op: "KG upload", Err: err}
	}

	s.logger.Info("kg uploaded", "user_id", userID, "kg_hash", obj.Hash, "conversation_id", req.ConversationID)
	return model.UploadKGResponse{
		Success:       true,
		UserID:        userID,
		KGHash:        obj.Hash,
		LighthouseURL: ipfs.GatewayURL(s.gateway, obj.Hash),
		Message:       "KG uploaded successfully. Call /upload-metrics to complete test run.",
	}, nil
}

// UploadMetrics pins the latest metrics document and records a test run
// pairing it with the previously uploaded KG hash.
func (s *Service) UploadMetrics(ctx context.Context, req model.UploadMetricsRequest) (model.UploadMetricsResponse, error) {
	if strings.TrimSpace(req.AccessToken) == "" {
		return model.UploadMetricsResponse{}, invalid("access_token is required")
	}
	if strings.TrimSpace(req.KGHash) == "" {
		return model.UploadMetricsResponse{}, invalid("kg_hash is required (from previous /upload-kg call)")
	}
	if err := model.ValidateConversationID(req.ConversationID); err != nil {
		return model.UploadMetricsResponse{}, invalid("%s", err.Error())
	}
	userID, err := s.Authenticate(ctx, req.AccessToken)
	if err != nil {
		return model.UploadMetricsResponse{}, err
	}

	doc, err := s.sources.FetchMetrics(ctx)
	if err != nil {
		return model.UploadMetricsResponse{}, &OperationError{Op: "Metrics fetch", Err: err}
	}
	obj, err := s.pin(ctx, "metrics", userID, s.now(), doc)
	if err != nil {
		return model.UploadMetricsResponse{}, &OperationError{Op: "Metrics upload", Err: err}
	}
	run, err := s.store.CreateTestRun(ctx, userID, req.KGHash, obj.Hash)
	if err != nil {
		return model.UploadMetricsResponse{}, &OperationError{Op: "Test run insert", Err: err}
	}

	s.logger.Info("test run stored", "user_id", userID, "run_id", run.RunID, "kg_hash", run.KGHash, "metrics_hash", run.MetricsHash)
	return model.UploadMetricsResponse{
		Success:     true,
		RunID:       run.RunID.String(),
		UserID:      userID,
		KGHash:      run.KGHash,
		MetricsHash: run.MetricsHash,
		KGURL:       ipfs.GatewayURL(s.gateway, run.KGHash),
		MetricsURL:  ipfs.GatewayURL(s.gateway, run.MetricsHash),
		Message:     "Test run completed and stored successfully",
	}, nil
}

// UploadComplete fetches both documents concurrently, pins both
// concurrently and records one test run. A failure after the first pin
// leaves an orphaned object on IPFS; no row is written.
func (s *Service) UploadComplete(ctx context.Context, req model.UploadCompleteRequest) (model.UploadCompleteResponse, error) {
	if err := model.ValidateConversationID(req.ConversationID); err != nil {
		return model.UploadCompleteResponse{}, invalid("%s", err.Error())
	}
	userID, err := s.Authenticate(ctx, req.AccessToken)
	if err != nil {
		return model.UploadCompleteResponse{}, err
	}

	var kgDoc, metricsDoc json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc, err := s.sources.FetchKG(gctx, req.ConversationID)
		if err != nil {
			return &OperationError{Op: "KG fetch", Err: err}
		}
		kgDoc = doc
		return nil
	})
	g.Go(func() error {
		doc, err := s.sources.FetchMetrics(gctx)
		if err != nil {
			return &OperationError{Op: "Metrics fetch", Err: err}
		}
		metricsDoc = doc
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.UploadCompleteResponse{}, err
	}

	// Both objects share one timestamp so their names pair up.
	at := s.now()
	var kgObj, metricsObj ipfs.Object
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		obj, err := s.pin(gctx, "kg", userID, at, kgDoc)
		if err != nil {
			return &OperationError{Op: "KG upload", Err: err}
		}
		kgObj = obj
		return nil
	})
	g.Go(func() error {
		obj, err := s.pin(gctx, "metrics", userID, at, metricsDoc)
		if err != nil {
			return &OperationError{Op: "Metrics upload", Err: err}
		}
		metricsObj = obj
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.UploadCompleteResponse{}, err
	}

	run, err := s.store.CreateTestRun(ctx, userID, kgObj.Hash, metricsObj.Hash)
	if err != nil {
		return model.UploadCompleteResponse{}, &OperationError{Op: "Test run insert", Err: err}
	}

	s.logger.Info("complete test run stored", "user_id", userID, "run_id", run.RunID, "kg_hash", kgObj.Hash, "metrics_hash", metricsObj.Hash)
	return model.UploadCompleteResponse{
		Success: true,
		RunID:   run.RunID.String(),
		UserID:  userID,
		KG:      model.StoredObject{Hash: kgObj.Hash, URL: ipfs.GatewayURL(s.gateway, kgObj.Hash)},
		Metrics: model.StoredObject{Hash: metricsObj.Hash, URL: ipfs.GatewayURL(s.gateway, metricsObj.Hash)},
		Message: "Test run completed and stored successfully",
	}, nil
}

// ListTestRuns returns the token owner's runs, newest first.
func (s *Service) ListTestRuns(ctx context.Context, token string) (model.TestRunsResponse, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return model.TestRunsResponse{}, err
	}
	runs, err := s.store.ListTestRunsByUser(ctx, userID)
	if err != nil {
		return model.TestRunsResponse{}, &OperationError{Op: "Test run listing", Err: err}
	}
	views := make([]model.TestRunView, len(runs))
	for i, r := range runs {
		views[i] = s.view(r)
	}
	return model.TestRunsResponse{
		Success:  true,
		UserID:   userID,
		Count:    len(views),
		TestRuns: views,
	}, nil
}

// UpdateWallet sets the token owner's wallet address. The address can be
// set once; a second call returns storage.ErrConflict.
func (s *Service) UpdateWallet(ctx context.Context, req model.UpdateWalletRequest) (model.UpdateWalletResponse, error) {
	if strings.TrimSpace(req.AccessToken) == "" {
		return model.UpdateWalletResponse{}, invalid("access_token is required")
	}
	if err := model.ValidateWalletAddress(req.WalletAddress); err != nil {
		return model.UpdateWalletResponse{}, invalid("%s", err.Error())
	}
	userID, err := s.Authenticate(ctx, req.AccessToken)
	if err != nil {
		return model.UpdateWalletResponse{}, err
	}
	u, err := s.store.SetWalletAddress(ctx, userID, req.WalletAddress)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			return model.UpdateWalletResponse{}, err
		}
		return model.UpdateWalletResponse{}, &OperationError{Op: "Wallet update", Err: err}
	}
	s.logger.Info("wallet address set", "user_id", userID)
	return model.UpdateWalletResponse{
		Success:       true,
		UserID:        u.UserID,
		WalletAddress: req.WalletAddress,
		Message:       "Wallet address updated successfully",
	}, nil
}

// AttachReward records the FGC reward transaction for a run owned by the
// token's user. Runs owned by someone else are reported as not found.
func (s *Service) AttachReward(ctx context.Context, runID string, req model.AttachRewardRequest) (model.AttachRewardResponse, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return model.AttachRewardResponse{}, invalid("run_id must be a UUID")
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return model.AttachRewardResponse{}, invalid("access_token is required")
	}
	if err := model.ValidateTxHash(req.TxHash); err != nil {
		return model.AttachRewardResponse{}, invalid("%s", err.Error())
	}
	userID, err := s.Authenticate(ctx, req.AccessToken)
	if err != nil {
		return model.AttachRewardResponse{}, err
	}
	owned, err := s.store.GetTestRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.AttachRewardResponse{}, err
		}
		return model.AttachRewardResponse{}, &OperationError{Op: "Run lookup", Err: err}
	}
	if !authz.CanModifyRun(userID, owned) {
		return model.AttachRewardResponse{}, storage.ErrNotFound
	}

	run, err := s.store.AttachRewardTx(ctx, id, req.TxHash)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			return model.AttachRewardResponse{}, err
		}
		return model.AttachRewardResponse{}, &OperationError{Op: "Reward attach", Err: err}
	}
	s.logger.Info("reward attached", "user_id", userID, "run_id", run.RunID)
	return model.AttachRewardResponse{
		Success: true,
		TestRun: s.view(run),
		Message: "Reward transaction recorded",
	}, nil
}

// Health reports the relay's dependencies. Status is "OK" when the database
// answers a ping and "degraded" otherwise.
func (s *Service) Health(ctx context.Context) model.HealthResponse {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := "OK"
	dbStatus := model.StatusConnected
	if err := s.store.Ping(pingCtx); err != nil {
		s.logger.Warn("health: database ping failed", "error", err)
		status = "degraded"
		dbStatus = model.StatusDisconnected
	}

	services := map[string]string{
		"database": dbStatus,
		"backend":  configured(s.backendURL != ""),
		"metrics":  configured(s.metricsURL != ""),
	}
	services[s.content.Name()] = configured(s.content.Configured())

	now := s.now()
	return model.HealthResponse{
		Status:    status,
		Timestamp: now.UTC(),
		Version:   s.version,
		Services:  services,
		Uptime:    int64(now.Sub(s.startedAt).Seconds()),
	}
}

func configured(ok bool) string {
	if ok {
		return model.StatusConfigured
	}
	return model.StatusNotConfigured
}

func (s *Service) view(r model.TestRun) model.TestRunView {
	return model.TestRunView{
		TestRun:    r,
		KGURL:      ipfs.GatewayURL(s.gateway, r.KGHash),
		MetricsURL: ipfs.GatewayURL(s.gateway, r.MetricsHash),
	}
}

// ObjectName is the IPFS file name for a document of kind owned by userID.
func ObjectName(kind, userID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d.json", kind, userID, at.UnixMilli())
}

func (s *Service) pin(ctx context.Context, kind, userID string, at time.Time, doc json.RawMessage) (ipfs.Object, error) {
	obj, err := s.content.Put(ctx, ObjectName(kind, userID, at), doc)
	if err != nil {
		return ipfs.Object{}, err
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("store", s.content.Name()),
	)
	s.uploads.Add(ctx, 1, attrs)
	s.uploadBytes.Add(ctx, int64(len(doc)), attrs)
	return obj, nil
}
