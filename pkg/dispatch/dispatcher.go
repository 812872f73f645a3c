package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/tollgate/pkg/apierror"
	"mercator-hq/tollgate/pkg/auth"
	"mercator-hq/tollgate/pkg/budget"
	"mercator-hq/tollgate/pkg/directory"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/tokens"
	"mercator-hq/tollgate/pkg/upstream"
)

// Dispatch outcomes reported to the Observer.
const (
	OutcomeSuccess        = "success"
	OutcomeInvalid        = "invalid"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeDenied         = "denied"
	OutcomePoolExhausted  = "pool_exhausted"
	OutcomeUpstreamError  = "upstream_error"
	OutcomeTimeout        = "timeout"
	OutcomeTransportError = "transport_error"
	OutcomeRecordFailed   = "record_failed"
	OutcomeError          = "error"
)

// Recorder appends usage records. *ledger.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, rec ledger.UsageRecord) (string, error)
}

// BudgetChecker decides whether a call may proceed. *budget.Evaluator
// implements it.
type BudgetChecker interface {
	CheckBudget(ctx context.Context, req budget.Request) (*budget.Decision, error)
}

// CredentialSource resolves pooled credentials. *pool.Allocator implements
// it.
type CredentialSource interface {
	AssignedTo(ctx context.Context, userID string) (*pool.CredentialRef, error)
	Allocate(ctx context.Context, orgID, userID string) (*pool.CredentialRef, error)
}

// Forwarder sends a request upstream. *upstream.Client implements it.
type Forwarder interface {
	Forward(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// Tracer starts spans. Any OpenTelemetry tracer satisfies it.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// Observer receives dispatch metrics. The metrics collector implements it.
type Observer interface {
	ObserveDispatch(endpoint, outcome string, duration time.Duration)
	ObserveTokensRecorded(endpoint string, tokens int64)
	ObserveBudgetDenial(scope, code string)
}

// Config wires a Dispatcher.
type Config struct {
	Ledger      Recorder
	Budget      BudgetChecker
	Directory   directory.Directory
	Credentials CredentialSource
	Upstream    Forwarder
	Estimator   *tokens.Estimator

	// FallbackAPIKey is used when the caller holds no pooled credential and
	// none can be allocated. Empty means such calls fail with PoolExhausted.
	FallbackAPIKey string

	Observer Observer
	Tracer   Tracer
	Logger   *slog.Logger
}

// Call is one inbound metered request.
type Call struct {
	Principal      *auth.Principal
	Endpoint       upstream.Endpoint
	OrganizationID string
	WorkspaceID    string
	ProjectID      string
	Body           []byte
	RequestID      string
}

// Result is a successfully forwarded call.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Usage      upstream.Usage
	RecordID   string

	// BudgetAlert is set when a checked limit reached its alert threshold.
	BudgetAlert bool
}

// Dispatcher runs metered calls.
type Dispatcher struct {
	ledger      Recorder
	budget      BudgetChecker
	directory   directory.Directory
	credentials CredentialSource
	upstream    Forwarder
	estimator   *tokens.Estimator
	fallbackKey string
	observer    Observer
	tracer      Tracer
	logger      *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Ledger == nil || cfg.Budget == nil || cfg.Directory == nil || cfg.Upstream == nil {
		return nil, errors.New("dispatcher requires ledger, budget, directory and upstream")
	}
	d := &Dispatcher{
		ledger:      cfg.Ledger,
		budget:      cfg.Budget,
		directory:   cfg.Directory,
		credentials: cfg.Credentials,
		upstream:    cfg.Upstream,
		estimator:   cfg.Estimator,
		fallbackKey: cfg.FallbackAPIKey,
		observer:    cfg.Observer,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger,
	}
	if d.estimator == nil {
		d.estimator = tokens.NewEstimator(nil)
	}
	if d.tracer == nil {
		d.tracer = noop.NewTracerProvider().Tracer("")
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatch")
	return d, nil
}

// Dispatch runs call. It never retries the upstream request.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*Result, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "tollgate.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tollgate.endpoint", string(call.Endpoint)),
			attribute.String("tollgate.request_id", call.RequestID),
		),
	)
	defer span.End()

	res, outcome, err := d.dispatch(ctx, span, call)

	d.observeDispatch(string(call.Endpoint), outcome, time.Since(start))
	span.SetAttributes(attribute.String("tollgate.outcome", outcome))
	if err != nil {
		apiErr := Translate(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apiErr.Code))
		return nil, apiErr
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, span trace.Span, call Call) (*Result, string, error) {
	// 1. validate
	p := call.Principal
	if p == nil || p.UserID == "" {
		return nil, OutcomeUnauthorized, apierror.Unauthenticated("request is not authenticated")
	}
	if _, err := upstream.ParseEndpoint(string(call.Endpoint)); err != nil {
		return nil, OutcomeInvalid, apierror.InvalidRequest(err.Error())
	}
	body, err := parsePayload(call.Endpoint, call.Body)
	if err != nil {
		return nil, OutcomeInvalid, err
	}
	span.SetAttributes(
		attribute.String("tollgate.user_id", p.UserID),
		attribute.String("tollgate.model", body.Model),
	)

	// 2. scope
	orgID, err := d.resolveOrganization(ctx, p, call.OrganizationID)
	if err != nil {
		return nil, OutcomeUnauthorized, err
	}
	span.SetAttributes(attribute.String("tollgate.organization_id", orgID))

	// 3. projection
	projected := body.promptTokens(d.estimator) + body.completionLimit()

	// 4. budget
	decision, err := d.budget.CheckBudget(ctx, budget.Request{
		UserID:          p.UserID,
		OrganizationID:  orgID,
		WorkspaceID:     call.WorkspaceID,
		ProjectedTokens: projected,
	})
	if err != nil {
		return nil, OutcomeError, err
	}
	if !decision.Allowed {
		d.observeDenial(decision)
		return nil, OutcomeDenied, decisionError(decision)
	}

	// 5. credential
	apiKey, entryID, err := d.resolveCredential(ctx, orgID, p.UserID)
	if err != nil {
		if apierror.CodeOf(err) == apierror.CodePoolExhausted {
			return nil, OutcomePoolExhausted, err
		}
		return nil, OutcomeError, err
	}

	// 6. forward
	fctx, fspan := d.tracer.Start(ctx, "tollgate.upstream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tollgate.pool_entry_id", entryID)),
	)
	resp, fwdErr := d.upstream.Forward(fctx, upstream.Request{
		Endpoint:  call.Endpoint,
		Body:      call.Body,
		APIKey:    apiKey,
		RequestID: call.RequestID,
	})
	if fwdErr != nil {
		fspan.RecordError(fwdErr)
		fspan.SetStatus(codes.Error, fwdErr.Error())
	}
	fspan.End()

	// 7. record, whatever happened upstream
	rec := ledger.UsageRecord{
		UserID:         p.UserID,
		OrganizationID: orgID,
		WorkspaceID:    call.WorkspaceID,
		ProjectID:      call.ProjectID,
		Endpoint:       string(call.Endpoint),
		Model:          body.Model,
		Source:         ledger.SourceProxy,
	}
	outcome := OutcomeSuccess
	var providerErr *upstream.ProviderError
	switch {
	case fwdErr == nil:
		rec.Success = true
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
		rec.TotalTokens = resp.Usage.TotalTokens
		if !resp.Usage.Reported {
			// No usage in the response: charge the estimated prompt so the
			// call still counts against the budget.
			rec.InputTokens = body.promptTokens(d.estimator)
			rec.TotalTokens = rec.InputTokens
			d.logger.WarnContext(ctx, "upstream response carried no usage, recording estimate",
				"request_id", call.RequestID,
				"estimated_tokens", rec.TotalTokens,
			)
		}
	case errors.As(fwdErr, &providerErr):
		outcome = OutcomeUpstreamError
		rec.InputTokens = providerErr.Usage.InputTokens
		rec.OutputTokens = providerErr.Usage.OutputTokens
		rec.TotalTokens = providerErr.Usage.TotalTokens
	default:
		outcome = OutcomeTransportError
		var timeoutErr *upstream.TimeoutError
		if errors.As(fwdErr, &timeoutErr) {
			outcome = OutcomeTimeout
		}
	}

	// The record must survive a caller that went away mid-call.
	recordID, recErr := d.ledger.Record(context.WithoutCancel(ctx), rec)
	if recErr != nil {
		d.logger.ErrorContext(ctx, "failed to record usage",
			"request_id", call.RequestID,
			"user_id", p.UserID,
			"success", rec.Success,
			"upstream_error", fwdErr,
			"error", recErr,
		)
		return nil, OutcomeRecordFailed, apierror.Transient("usage could not be recorded", recErr)
	}
	if d.observer != nil {
		d.observer.ObserveTokensRecorded(string(call.Endpoint), rec.TotalTokens)
	}
	span.SetAttributes(
		attribute.String("tollgate.record_id", recordID),
		attribute.Int64("tollgate.tokens.total", rec.TotalTokens),
	)

	if fwdErr != nil {
		d.logger.WarnContext(ctx, "metered call failed",
			"request_id", call.RequestID,
			"user_id", p.UserID,
			"outcome", outcome,
			"error", fwdErr,
		)
		return nil, outcome, fwdErr
	}

	d.logger.InfoContext(ctx, "metered call completed",
		"request_id", call.RequestID,
		"user_id", p.UserID,
		"organization_id", orgID,
		"workspace_id", call.WorkspaceID,
		"model", body.Model,
		"total_tokens", rec.TotalTokens,
		"record_id", recordID,
	)
	return &Result{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        resp.Body,
		Usage:       resp.Usage,
		RecordID:    recordID,
		BudgetAlert: decision.AlertTriggered,
	}, outcome, nil
}

// resolveOrganization returns the organization a call is attributed to.
// An explicit organization must be the user's own unless the principal is
// a platform administrator.
func (d *Dispatcher) resolveOrganization(ctx context.Context, p *auth.Principal, requested string) (string, error) {
	user, err := d.directory.User(ctx, p.UserID)
	if err != nil {
		return "", err
	}
	if requested == "" {
		return user.OrganizationID, nil
	}
	if requested != user.OrganizationID && !p.IsAdmin() {
		return "", apierror.Unauthorized("user is not a member of the requested organization")
	}
	return requested, nil
}

// resolveCredential returns the upstream key for a call: the user's
// assigned pool entry, a freshly allocated one when the organization
// auto-assigns, or the fallback key.
func (d *Dispatcher) resolveCredential(ctx context.Context, orgID, userID string) (key, entryID string, err error) {
	if d.credentials != nil && orgID != "" {
		ref, err := d.credentials.AssignedTo(ctx, userID)
		if err != nil {
			return "", "", err
		}
		if ref != nil && ref.OrganizationID != orgID {
			ref = nil
		}

		if ref == nil {
			org, err := d.directory.Organization(ctx, orgID)
			if err != nil {
				return "", "", err
			}
			if org.PoolAutoAssign {
				if ref, err = d.credentials.Allocate(ctx, orgID, userID); err != nil {
					return "", "", err
				}
			}
		}

		if ref != nil {
			return ref.Secret, ref.EntryID, nil
		}
	}

	if d.fallbackKey != "" {
		return d.fallbackKey, "", nil
	}
	return "", "", apierror.PoolExhausted(orgID)
}

func (d *Dispatcher) observeDispatch(endpoint, outcome string, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.ObserveDispatch(endpoint, outcome, elapsed)
	}
}

func (d *Dispatcher) observeDenial(decision *budget.Decision) {
	if d.observer != nil {
		d.observer.ObserveBudgetDenial(string(decision.Scope), string(decision.Code))
	}
}
