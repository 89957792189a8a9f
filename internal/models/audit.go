package models

import "time"

// Session lifecycle actions recorded on the auth endpoints.
const (
	AuditActionLogin    = "LOGIN"
	AuditActionLogout   = "LOGOUT"
	AuditActionRegister = "REGISTER"
)

// Administrative actions recorded on the user management endpoints.
const (
	AuditActionUserCreate    = "USER_CREATE"
	AuditActionUserUpdate    = "USER_UPDATE"
	AuditActionUserDelete    = "USER_DELETE"
	AuditActionProfileUpdate = "PROFILE_UPDATE"
	AuditActionExport        = "EXPORT"
)

// AuditLog is one row of the audit trail. OldValues and NewValues hold
// JSON snapshots around a mutation; reads and session events only fill
// NewValues with a short outcome summary.
type AuditLog struct {
	ID        string `db:"id" json:"id"`
	Action    string `db:"action" json:"action"`
	Resource  string `db:"resource" json:"resource"`
	IPAddress string `db:"ip_address" json:"ip_address"`
	UserAgent string `db:"user_agent" json:"user_agent"`
	OldValues []byte `db:"old_values" json:"old_values,omitempty"`
	NewValues []byte `db:"new_values" json:"new_values,omitempty"`

	// UserID is the acting account; nil when the action predates a
	// session, such as a failed login. ResourceID points at the record
	// the action touched.
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Actor names the acting account for log output.
func (a *AuditLog) Actor() string {
	if a == nil || a.UserID == nil {
		return "anonymous"
	}
	return *a.UserID
}
