package internaldefs

import (
	"strconv"
	"strings"

	goAuthClient "github.com/MrEthical07/goAuthClient"
)

// CounterDef names one client counter for export.
type CounterDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goAuthClient.MetricLoginSuccess, Name: "goauthclient_login_success_total", Help: "Logins that ended with an authenticated session."},
	{ID: goAuthClient.MetricLoginFailure, Name: "goauthclient_login_failure_total", Help: "Logins rejected by the backend or rolled back."},
	{ID: goAuthClient.MetricMFARequired, Name: "goauthclient_mfa_required_total", Help: "Logins answered with a second-factor challenge."},
	{ID: goAuthClient.MetricMFASuccess, Name: "goauthclient_mfa_success_total", Help: "Successful second-factor verifications."},
	{ID: goAuthClient.MetricMFAFailure, Name: "goauthclient_mfa_failure_total", Help: "Failed second-factor verifications."},
	{ID: goAuthClient.MetricMFAResend, Name: "goauthclient_mfa_resend_total", Help: "Second-factor code resends."},
	{ID: goAuthClient.MetricRefreshSuccess, Name: "goauthclient_refresh_success_total", Help: "Access tokens renewed from the refresh cookie."},
	{ID: goAuthClient.MetricRefreshFailure, Name: "goauthclient_refresh_failure_total", Help: "Refresh attempts that failed."},
	{ID: goAuthClient.MetricBootstrapAuthenticated, Name: "goauthclient_bootstrap_authenticated_total", Help: "Bootstraps that restored a session."},
	{ID: goAuthClient.MetricBootstrapAnonymous, Name: "goauthclient_bootstrap_anonymous_total", Help: "Bootstraps that ended signed out."},
	{ID: goAuthClient.MetricLogout, Name: "goauthclient_logout_total", Help: "Logouts."},
	{ID: goAuthClient.MetricLogoutNetworkFailure, Name: "goauthclient_logout_network_failure_total", Help: "Logouts whose server call failed."},
	{ID: goAuthClient.MetricSessionExpired, Name: "goauthclient_session_expired_total", Help: "Sessions cleared after a failed refresh."},
	{ID: goAuthClient.MetricRetryAfterRefresh, Name: "goauthclient_retry_after_refresh_total", Help: "Requests retried after a 401 and refresh."},
	{ID: goAuthClient.MetricAbandoned, Name: "goauthclient_abandoned_total", Help: "Results discarded because the caller or session moved on."},
	{ID: goAuthClient.MetricLockoutLocal, Name: "goauthclient_lockout_local_total", Help: "Submissions blocked by the client attempt guard."},
	{ID: goAuthClient.MetricLockoutServer, Name: "goauthclient_lockout_server_total", Help: "Lockouts signalled by the backend."},
	{ID: goAuthClient.MetricGuardStoreFailure, Name: "goauthclient_guard_store_failure_total", Help: "Attempt store operations that failed."},
	{ID: goAuthClient.MetricIdentifierRejected, Name: "goauthclient_identifier_rejected_total", Help: "Identifiers the backend reported as invalid."},
	{ID: goAuthClient.MetricNetworkError, Name: "goauthclient_network_error_total", Help: "Requests that failed without an HTTP status."},
}

// Request latency histogram names.
const (
	LatencyName = "goauthclient_request_latency_seconds"
	LatencyHelp = "Backend round-trip latency."
)

// AuditDroppedName is exported alongside the client counters.
const (
	AuditDroppedName = "goauthclient_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the relay queue was full."
)

// LatencyLabels are the le values for the latency buckets, in seconds,
// ending with +Inf.
var LatencyLabels = func() [goAuthClient.LatencyBucketCount]string {
	var out [goAuthClient.LatencyBucketCount]string
	for i, bound := range goAuthClient.LatencyBounds {
		out[i] = strconv.FormatFloat(bound.Seconds(), 'g', -1, 64)
	}
	out[len(out)-1] = "+Inf"
	return out
}()

// InstrumentSuffix turns an le label into something legal in an
// instrument name: "0.05" becomes "0_05" and "+Inf" becomes "inf".
func InstrumentSuffix(label string) string {
	if label == "+Inf" {
		return "inf"
	}
	return strings.ReplaceAll(label, ".", "_")
}
