package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"taskflow/internal/pkg/logger"
)

const (
	ActionUserCreate      = "user.create"
	ActionUserUpdate      = "user.update"
	ActionUserDelete      = "user.delete"
	ActionUserMembership  = "user.membership"
	ActionUserInvite      = "user.invite"
	ActionUserForceReset  = "user.force_reset"
	ActionSiteCreate      = "site.create"
	ActionSiteDelete      = "site.delete"
	ActionSiteModules     = "site.modules"
	ActionTeamCreate      = "team.create"
	ActionTeamUpdate      = "team.update"
	ActionTeamDelete      = "team.delete"
	ActionTenantCreate    = "tenant.create"
	ActionTenantUpdate    = "tenant.update"
	ActionInviteRedeemed  = "auth.invite_redeemed"
	ActionResetRedeemed   = "auth.reset_redeemed"
	ActionPasswordChanged = "auth.password_changed"
	ActionLogoutAll       = "auth.logout_all"
)

type AuditLog struct {
	ID           string                 `json:"id" db:"id"`
	ActorID      string                 `json:"actor_id" db:"actor_id"`
	Action       string                 `json:"action" db:"action"`
	ResourceType string                 `json:"resource_type" db:"resource_type"`
	ResourceID   string                 `json:"resource_id" db:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata" db:"-"`
	RawMetadata  string                 `json:"-" db:"metadata"`
	IPAddress    string                 `json:"ip_address" db:"ip_address"`
	UserAgent    string                 `json:"user_agent" db:"user_agent"`
	CreatedAt    int64                  `json:"created_at" db:"created_at"`
}

type clientKey struct{}

type client struct {
	ip string
	ua string
}

// WithClient records the caller's address and user agent for later entries.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{ip: ip, ua: userAgent})
}

type Logger struct {
	db *sqlx.DB
	wg sync.WaitGroup
}

func NewLogger(db *sqlx.DB) *Logger {
	return &Logger{db: db}
}

// Log writes an entry in the background. Audit failures are logged and never
// surface to the request.
func (l *Logger) Log(ctx context.Context, actorID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	if l == nil {
		return
	}

	ip, ua := "unknown", "unknown"
	if c, ok := ctx.Value(clientKey{}).(client); ok {
		ip, ua = c.ip, c.ua
	}

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaJSON, _ := json.Marshal(metadata)
	entry := AuditLog{
		ID:           "audit_" + uuid.New().String(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RawMetadata:  string(metaJSON),
		IPAddress:    ip,
		UserAgent:    ua,
		CreatedAt:    time.Now().Unix(),
	}
	log := logger.FromContext(ctx).With().Str("action", action).Str("resource_id", resourceID).Logger()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		query := l.db.Rebind(`
			INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		_, err := l.db.ExecContext(context.Background(), query, entry.ID, entry.ActorID, entry.Action, entry.ResourceType,
			entry.ResourceID, entry.RawMetadata, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
		if err != nil {
			log.Error().Err(err).Msg("failed to write audit log")
		}
	}()
}

// Wait blocks until pending writes finish. Called on shutdown.
func (l *Logger) Wait() {
	l.wg.Wait()
}

// List returns entries newest first.
func (l *Logger) List(ctx context.Context, limit, offset int) ([]AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	entries := []AuditLog{}
	err := l.db.SelectContext(ctx, &entries, l.db.Rebind(`
		SELECT id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs ORDER BY created_at DESC, id LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].RawMetadata != "" {
			_ = json.Unmarshal([]byte(entries[i].RawMetadata), &entries[i].Metadata)
		}
	}
	return entries, nil
}
