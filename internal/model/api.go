package model

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Field length limits for run submissions. These prevent a single
// oversized field from filling ledger TEXT columns or blowing up the
// planner prompt with caller-controlled garbage.
const (
	MaxQuestionLen   = 4 * 1024 // 4 KB
	MaxDatasetRefLen = 2048
	MaxAgentSelect   = 32
)

// privateIPRanges is the set of CIDR blocks considered non-public.
// Populated once at package init; used by ValidateDatasetRef.
var privateIPRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // link-local
		"::1/128",
		"fc00::/7",  // unique-local IPv6
		"fe80::/10", // link-local IPv6
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			privateIPRanges = append(privateIPRanges, network)
		}
	}
}

// IsDatasetDigest reports whether s looks like a hex sha-256 digest, the
// form dataset refs take after an inline upload to the spool.
func IsDatasetDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ValidateDatasetRef checks that a dataset reference is either a spooled
// digest or a safe remote URL. Remote refs must be http, https, or s3,
// must not embed credentials, and http(s) refs must not point at
// private or loopback addresses.
func ValidateDatasetRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("dataset_ref is required")
	}
	if len(ref) > MaxDatasetRefLen {
		return fmt.Errorf("dataset_ref exceeds maximum length of %d characters", MaxDatasetRefLen)
	}
	if IsDatasetDigest(ref) {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid dataset_ref: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "s3":
	default:
		return fmt.Errorf("dataset_ref must be a dataset digest or an http, https, or s3 URL (got scheme %q)", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("dataset_ref must not include credentials")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("dataset_ref must include a host")
	}
	if scheme == "s3" {
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("dataset_ref must not point to localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, r := range privateIPRanges {
			if r.Contains(ip) {
				return fmt.Errorf("dataset_ref must not point to a private or loopback address")
			}
		}
	}
	return nil
}

// ValidateQuestion checks the analysis question for presence and length.
func ValidateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("question is required")
	}
	if len(q) > MaxQuestionLen {
		return fmt.Errorf("question exceeds maximum length of %d bytes", MaxQuestionLen)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// SubmitRunRequest is the request body for POST /v1/runs.
//
// AgentIDs, when present, bypasses the planner: the listed agents are
// resolved against the catalog and executed as-is.
type SubmitRunRequest struct {
	DatasetRef string   `json:"dataset_ref"`
	Question   string   `json:"question"`
	AgentIDs   []string `json:"agent_ids,omitempty"`
}

// Validate checks a run submission before it reaches the engine.
func (r SubmitRunRequest) Validate() error {
	if err := ValidateDatasetRef(r.DatasetRef); err != nil {
		return err
	}
	if err := ValidateQuestion(r.Question); err != nil {
		return err
	}
	if len(r.AgentIDs) > MaxAgentSelect {
		return fmt.Errorf("agent_ids must list at most %d agents", MaxAgentSelect)
	}
	for _, id := range r.AgentIDs {
		if err := ValidateAgentID(id); err != nil {
			return err
		}
	}
	return nil
}

// PlanRequest is the request body for POST /v1/plan.
type PlanRequest struct {
	DatasetRef string `json:"dataset_ref"`
	Question   string `json:"question"`
}

// PlanResponse is the response for POST /v1/plan.
type PlanResponse struct {
	DatasetDigest string            `json:"dataset_digest"`
	Agents        []AgentDescriptor `json:"agents"`
}

// RunDetail is the response payload for GET /v1/runs/{run_id}: the run
// plus its per-agent executions.
type RunDetail struct {
	Run        Run              `json:"run"`
	Executions []AgentExecution `json:"executions"`
}

// DatasetUploadResponse is the response for POST /v1/datasets.
type DatasetUploadResponse struct {
	Digest  string         `json:"digest"`
	Summary DatasetSummary `json:"summary"`
}

// SearchRequest is the request body for POST /v1/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult is one hit from POST /v1/search.
type SearchResult struct {
	RunID       string     `json:"run_id"`
	Question    string     `json:"question"`
	Snippet     string     `json:"snippet,omitempty"`
	Score       float32    `json:"score"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Ledger  string `json:"ledger"`
	Cache   string `json:"cache"`
	Search  string `json:"search,omitempty"`
	Broker  string `json:"broker"`
	Workers int    `json:"workers"`
	Uptime  int64  `json:"uptime_seconds"`
}
