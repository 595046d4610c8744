package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricRegisterSuccess, Name: "gosession_register_success_total", Help: "Accounts created."},
	{ID: goSession.MetricRegisterConflict, Name: "gosession_register_conflict_total", Help: "Registrations rejected because the email exists."},
	{ID: goSession.MetricRegisterRejected, Name: "gosession_register_rejected_total", Help: "Registrations rejected by validation or password policy."},
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed logins."},
	{ID: goSession.MetricLoginRateLimited, Name: "gosession_login_rate_limited_total", Help: "Logins refused by the login throttle."},
	{ID: goSession.MetricPasswordRehashed, Name: "gosession_password_rehashed_total", Help: "Password digests upgraded on login."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: goSession.MetricRefreshRevoked, Name: "gosession_refresh_revoked_total", Help: "Refresh tokens presented after their session ended."},
	{ID: goSession.MetricRefreshRaceLost, Name: "gosession_refresh_race_lost_total", Help: "Refreshes that lost a concurrent rotation."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Sessions ended by logout."},
	{ID: goSession.MetricLogoutNoop, Name: "gosession_logout_noop_total", Help: "Logouts that ended no session."},
	{ID: goSession.MetricVerificationEnqueued, Name: "gosession_verification_enqueued_total", Help: "Verification emails queued."},
	{ID: goSession.MetricVerificationEnqueueFailed, Name: "gosession_verification_enqueue_failed_total", Help: "Verification emails that could not be queued."},
	{ID: goSession.MetricEmailVerified, Name: "gosession_email_verified_total", Help: "Email addresses verified."},
	{ID: goSession.MetricEmailVerificationFailure, Name: "gosession_email_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: goSession.MetricEmailVerificationRateLimited, Name: "gosession_email_verification_rate_limited_total", Help: "Verification resends refused by the resend limit."},
}

// HistogramDefs lists every exported engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricValidateLatency, Name: "gosession_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for audit events dropped under backpressure.
const AuditDroppedName = "gosession_audit_dropped_total"

const bucketCount = len(goSession.HistogramBounds) + 1

// HistogramBoundSuffix names each bucket for exporters without native
// histograms. The last entry is the unbounded bucket.
var HistogramBoundSuffix = [bucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(goSession.HistogramBounds))
	for i, d := range goSession.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [bucketCount]uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
