// Package session owns the single active guest dining session.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tableside/internal/domain"
	"tableside/internal/securestore"
	"tableside/internal/tenant"
)

var ErrNoSession = errors.New("no active session")

// RemoteChecker reports the backend's view of the active session for a
// table, so the decision layer can arbitrate resume-vs-restart when a
// different device already claimed the table.
type RemoteChecker interface {
	GetTableSession(ctx context.Context, tableNumber int) (*domain.RemoteSession, error)
}

// Manager creates, validates, resumes and tears down the guest session.
// At most one session is persisted at a time; initializing for a new
// table overwrites the prior one.
type Manager struct {
	store    *securestore.Store
	resolver tenant.Resolver
	remote   RemoteChecker
	logger   *zap.Logger

	mu      sync.Mutex
	current *domain.GuestSession
}

func NewManager(store *securestore.Store, resolver tenant.Resolver, remote RemoteChecker, logger *zap.Logger) *Manager {
	return &Manager{store: store, resolver: resolver, remote: remote, logger: logger}
}

func sessionKey(tenantID string) string { return "guest_session_" + tenantID }

func newSessionID(tableNumber int) string {
	nonce := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("guest-%d-%d-%s", tableNumber, time.Now().UnixMilli(), nonce)
}

func resolveDeviceType() string {
	if dt := os.Getenv("TABLESIDE_DEVICE_TYPE"); dt != "" {
		return dt
	}
	return "tablet"
}

// Initialize starts a fresh session for the table and persists it.
func (m *Manager) Initialize(ctx context.Context, tableNumber int, customerName, customerPhone string) (*domain.GuestSession, error) {
	scope, err := m.resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	sess := &domain.GuestSession{
		SessionID:     newSessionID(tableNumber),
		TableNumber:   tableNumber,
		TenantID:      scope.TenantID,
		CustomerName:  customerName,
		CustomerPhone: customerPhone,
		DeviceType:    resolveDeviceType(),
		IsActive:      true,
		StartTime:     time.Now().UTC(),
	}
	if err := m.store.Set(ctx, sessionKey(scope.TenantID), sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	m.logger.Info("session initialized",
		zap.String("session_id", sess.SessionID),
		zap.Int("table", tableNumber),
		zap.String("tenant_id", scope.TenantID))
	return sess, nil
}

// Restore returns the persisted session, but only when its tenant
// matches the currently resolved scope. A mismatched session is purged:
// stale cross-tenant state from a reused browser profile must never
// leak between restaurant subdomains.
func (m *Manager) Restore(ctx context.Context) (*domain.GuestSession, error) {
	scope, err := m.resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	var sess domain.GuestSession
	found, err := m.store.Get(ctx, sessionKey(scope.TenantID), &sess)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if sess.TenantID != scope.TenantID {
		m.logger.Warn("purging session from another tenant",
			zap.String("session_tenant", sess.TenantID),
			zap.String("current_tenant", scope.TenantID))
		_ = m.store.Remove(ctx, sessionKey(scope.TenantID))
		return nil, nil
	}

	m.mu.Lock()
	m.current = &sess
	m.mu.Unlock()
	return &sess, nil
}

// ValidateTenant checks the persisted session against the current
// tenant without mutating anything.
func (m *Manager) ValidateTenant(ctx context.Context) bool {
	scope, err := m.resolver.Resolve()
	if err != nil {
		return false
	}
	var sess domain.GuestSession
	found, err := m.store.Get(ctx, sessionKey(scope.TenantID), &sess)
	if err != nil || !found {
		return false
	}
	return sess.TenantID == scope.TenantID
}

// Current returns the in-memory session, if any.
func (m *Manager) Current() *domain.GuestSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Resumption pairs the local persisted session with the backend's view
// of the table. When the remote session belongs to a different device,
// the caller prompts the guest to choose resume or restart; a matching
// local session resumes silently.
type Resumption struct {
	Local  *domain.GuestSession
	Remote *domain.RemoteSession
}

// SameSession reports whether local and remote agree, in which case no
// prompt is needed.
func (r Resumption) SameSession() bool {
	return r.Local != nil && r.Remote != nil && r.Local.SessionID == r.Remote.SessionID
}

// CheckRemote surfaces both sides of the arbitration. A nil remote
// checker or an offline backend leaves Remote nil, which callers treat
// as "resume local silently".
func (m *Manager) CheckRemote(ctx context.Context, tableNumber int) (Resumption, error) {
	local, err := m.Restore(ctx)
	if err != nil {
		return Resumption{}, err
	}
	res := Resumption{Local: local}
	if m.remote == nil {
		return res, nil
	}
	remote, err := m.remote.GetTableSession(ctx, tableNumber)
	if err != nil {
		m.logger.Debug("remote session check failed", zap.Error(err))
		return res, nil
	}
	res.Remote = remote
	return res, nil
}

// Close clears the persisted session (checkout, feedback submission or
// explicit reset).
func (m *Manager) Close(ctx context.Context) error {
	scope, err := m.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	if err := m.store.Remove(ctx, sessionKey(scope.TenantID)); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	m.logger.Info("session closed", zap.String("tenant_id", scope.TenantID))
	return nil
}
