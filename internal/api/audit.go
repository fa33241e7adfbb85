package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"affilink/internal/auth"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	AuditOAuthConnected    = "oauth.connected"
	AuditStoreDisconnected = "store.disconnected"
	AuditCouponRequested   = "coupon.requested"
	AuditCouponApproved    = "coupon.approved"
	AuditCouponRejected    = "coupon.rejected"
)

// AuditEntry is one audit_log row.
type AuditEntry struct {
	UserID    string
	Action    string
	SubjectID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records security-relevant actions. Failures are the Auditor's to log.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry)
}

// RequestCounter counts a user's recent audit rows for throttling.
type RequestCounter interface {
	CountSince(ctx context.Context, action, userID string, since time.Time) (int, error)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, AuditEntry) {}

// PostgresAuditor writes the audit_log table.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

var (
	_ Auditor        = (*PostgresAuditor)(nil)
	_ RequestCounter = (*PostgresAuditor)(nil)
)

// NewPostgresAuditor uses schema (default "affilink") and logs insert failures to log.
func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("api: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "affilink"
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
		log:   log,
	}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEntry) {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			user_id, action, subject_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, COALESCE($6::jsonb, '{}'::jsonb), now())
	`, trimOrNil(e.UserID), action, trimOrNil(e.SubjectID), ipVal, trimOrNil(e.UserAgent), metaVal)
	if err != nil {
		a.log.Error("api.audit.insert.fail", "err", err, "action", action)
	}
}

func (a *PostgresAuditor) CountSince(ctx context.Context, action, userID string, since time.Time) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, nil
	}
	var n int
	err := a.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM `+a.table+`
		WHERE action = $1
		  AND user_id = $2
		  AND created_at >= $3
	`, action, userID, since).Scan(&n)
	return n, err
}

// audit records action for the authenticated caller.
func (h *Handler) audit(r *http.Request, c auth.Claims, action, subjectID string, meta map[string]any) {
	h.auditor.Record(r.Context(), AuditEntry{
		UserID:    c.UserID,
		Action:    action,
		SubjectID: subjectID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: r.UserAgent(),
		Meta:      meta,
	})
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
