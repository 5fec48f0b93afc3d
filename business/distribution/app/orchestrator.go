package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	aggApp "github.com/fd1az/token-distributor/business/aggregator/app"
	aggDomain "github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/logger"
)

const meterName = "github.com/fd1az/token-distributor/business/distribution/app"

// Config tunes the orchestrator.
type Config struct {
	Policy      domain.Policy
	SettleDelay time.Duration
	SlippageBps int
	// ProbeAmount is the stablecoin amount quoted to price sell-only providers.
	ProbeAmount asset.Amount
}

type orchestratorMetrics struct {
	distributions metric.Int64Counter
	swaps         metric.Int64Counter
	phases        metric.Int64Counter
	duration      metric.Float64Histogram
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the settle wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// Orchestrator acquires the target token through the configured providers
// and pays the recipient. Runs for the same transaction id are collapsed.
type Orchestrator struct {
	ledger    Ledger
	chain     Chain
	providers Providers
	executor  *Executor
	estimator *Estimator
	pair      Pair
	config    Config
	logger    logger.LoggerInterface

	sleep   func(ctx context.Context, d time.Duration) error
	runs    singleflight.Group
	tracer  trace.Tracer
	metrics *orchestratorMetrics
}

func NewOrchestrator(
	ledger Ledger,
	chain Chain,
	allowances Allowances,
	providers Providers,
	pair Pair,
	cfg Config,
	log logger.LoggerInterface,
	opts ...Option,
) (*Orchestrator, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if pair.Source == nil || pair.Target == nil {
		return nil, fmt.Errorf("source and target tokens are required")
	}
	if !cfg.ProbeAmount.IsPositive() || !cfg.ProbeAmount.Token().Equals(pair.Source) {
		return nil, fmt.Errorf("probe amount must be a positive %s amount", pair.Source.Symbol())
	}

	o := &Orchestrator{
		ledger:    ledger,
		chain:     chain,
		providers: providers,
		executor:  NewExecutor(chain, allowances, pair, cfg.SlippageBps, log),
		estimator: NewEstimator(providers, pair, cfg.ProbeAmount, cfg.SlippageBps, log),
		pair:      pair,
		config:    cfg,
		logger:    log,
		sleep:     sleepCtx,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return o, nil
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	o.metrics = &orchestratorMetrics{}

	o.metrics.distributions, err = meter.Int64Counter(
		"distribution_runs_total",
		metric.WithDescription("Distribution runs by resulting status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	o.metrics.swaps, err = meter.Int64Counter(
		"distribution_swaps_total",
		metric.WithDescription("Swap attempts by provider, phase and outcome"),
		metric.WithUnit("{swap}"),
	)
	if err != nil {
		return err
	}

	o.metrics.phases, err = meter.Int64Counter(
		"distribution_phases_total",
		metric.WithDescription("Acquisition phases entered"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		return err
	}

	o.metrics.duration, err = meter.Float64Histogram(
		"distribution_duration_ms",
		metric.WithDescription("Wall time of one distribution run"),
		metric.WithUnit("ms"),
	)
	return err
}

// Pair returns the tokens this orchestrator distributes.
func (o *Orchestrator) Pair() Pair {
	return o.pair
}

// Distribute runs req to completion. The returned result is never nil; the
// error is the coded cause when the distribution did not complete.
func (o *Orchestrator) Distribute(ctx context.Context, req domain.DistributionRequest) (*domain.Result, error) {
	v, err, _ := o.runs.Do(req.TransactionID, func() (any, error) {
		return o.distribute(ctx, req)
	})
	res, _ := v.(*domain.Result)
	if res == nil {
		res = &domain.Result{TransactionID: req.TransactionID, Status: domain.StatusPending, ErrorMessage: errorMessage(err)}
	}
	return res, err
}

// acquisition is the in-memory state of one run.
type acquisition struct {
	target   asset.Amount
	received asset.Amount
	swaps    []domain.SwapOutcome
	lastErr  error
}

func (a *acquisition) sufficient() bool {
	return a.received.AtLeast(a.target)
}

func (a *acquisition) swapped() bool {
	for _, s := range a.swaps {
		if s.Success {
			return true
		}
	}
	return false
}

func (o *Orchestrator) distribute(ctx context.Context, req domain.DistributionRequest) (*domain.Result, error) {
	runID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "distribution.run",
		trace.WithAttributes(
			attribute.String("transaction_id", req.TransactionID),
			attribute.String("run_id", runID),
			attribute.String("target_amount", req.TargetAmount.String()),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := o.run(ctx, req, runID)

	o.metrics.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	o.metrics.distributions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Bool("replayed", res.Replayed),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
	} else {
		span.SetAttributes(attribute.String("tx_hash", res.TxHash))
		span.SetStatus(codes.Ok, string(res.Status))
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, req domain.DistributionRequest, runID string) (*domain.Result, error) {
	id := req.TransactionID
	o.logger.Info(ctx, "distribution started",
		"transaction_id", id,
		"run_id", runID,
		"target_amount", req.TargetAmount.String(),
		"recipient", req.Recipient)

	record, err := o.ledger.Get(ctx, id)
	switch {
	case apperror.HasCode(err, apperror.CodeRecordNotFound):
		record = nil
	case err != nil:
		// Without an idempotency answer the run neither trades nor writes
		// the ledger.
		cause := apperror.Wrap(err, apperror.CodeLedgerUnavailable, id)
		o.logger.Error(ctx, "ledger unavailable, distribution not attempted",
			"transaction_id", id,
			"run_id", runID,
			"error", cause)
		return &domain.Result{
			TransactionID: id,
			Status:        domain.StatusPending,
			ErrorMessage:  errorMessage(cause),
		}, cause
	}

	if record.Settled() {
		return o.replay(ctx, record)
	}

	recipient, err := domain.ValidateRecipient(req.Recipient)
	if err != nil {
		return o.fail(ctx, req, domain.StatusFailed, "", err)
	}
	target, err := asset.ParseDecimal(o.pair.Target, req.TargetAmount)
	if err != nil || !target.IsPositive() {
		return o.fail(ctx, req, domain.StatusFailed, "",
			apperror.New(apperror.CodeInvalidAmount, apperror.WithContext("targetAmount "+req.TargetAmount.String()), apperror.WithCause(err)))
	}
	var override *asset.Amount
	if req.SourceAmountOverride != nil {
		amt, err := asset.ParseDecimal(o.pair.Source, *req.SourceAmountOverride)
		if err != nil || !amt.IsPositive() {
			return o.fail(ctx, req, domain.StatusFailed, "",
				apperror.New(apperror.CodeInvalidAmount, apperror.WithContext("sourceAmount "+req.SourceAmountOverride.String()), apperror.WithCause(err)))
		}
		override = &amt
	}

	acq := &acquisition{target: target, received: asset.Zero(o.pair.Target)}
	phase := o.acquire(ctx, req, acq, override)

	if phase != domain.PhaseSufficient {
		cause := apperror.New(apperror.CodeInsufficientPoolBalance,
			apperror.WithContext(fmt.Sprintf("acquired %s of %s after %d swap attempts", acq.received, target, len(acq.swaps))),
			apperror.WithCause(acq.lastErr))
		res, err := o.fail(ctx, req, domain.StatusPending, "", cause)
		res.Swaps = acq.swaps
		return res, err
	}

	if acq.swapped() && o.config.SettleDelay > 0 {
		if err := o.sleep(ctx, o.config.SettleDelay); err != nil {
			res, err := o.fail(ctx, req, domain.StatusPending, "", apperror.Wrap(err, apperror.CodeTransferFailed, "settle interrupted"))
			res.Swaps = acq.swaps
			return res, err
		}
	}
	o.checkBalance(ctx, acq)

	amount, err := acq.received.Min(target)
	if err != nil {
		return o.fail(ctx, req, domain.StatusPending, "", apperror.Wrap(err, apperror.CodeInternalError, "cap transfer"))
	}

	res, err := o.transfer(ctx, req, recipient, amount)
	res.Swaps = acq.swaps
	return res, err
}

// acquire drives the phase machine until the running total covers the
// target or every strategy is spent.
func (o *Orchestrator) acquire(ctx context.Context, req domain.DistributionRequest, acq *acquisition, override *asset.Amount) domain.Phase {
	policy := o.config.Policy
	phase := domain.StartPhase(override != nil, policy.StartsChunked(req.TargetAmount))

	for !phase.Terminal() {
		o.metrics.phases.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase.String())))
		o.logger.Info(ctx, "acquisition phase",
			"transaction_id", req.TransactionID,
			"phase", phase.String(),
			"received", acq.received.String(),
			"target", acq.target.String())

		var swapped bool
		switch phase {
		case domain.PhaseSellOverride:
			swapped = o.sellOn(ctx, req, acq, phase, o.providers.Preferred(), *override)
		case domain.PhaseBuyExact:
			swapped = o.buyExact(ctx, req, acq)
		case domain.PhaseSellEstimated:
			swapped = o.sellEstimated(ctx, req, acq, acq.target, policy.BufferFor(req.TargetAmount), phase)
		case domain.PhaseChunked:
			swapped = o.sellChunks(ctx, req, acq)
		case domain.PhaseTopUp:
			shortfall, err := acq.target.Shortfall(acq.received)
			if err != nil {
				acq.lastErr = err
				break
			}
			swapped = o.sellEstimated(ctx, req, acq, shortfall, policy.TopUpBufferBps, phase)
		}

		phase = domain.NextPhase(phase, domain.PhaseResult{Swapped: swapped, Sufficient: acq.sufficient()})
	}

	o.logger.Info(ctx, "acquisition finished",
		"transaction_id", req.TransactionID,
		"phase", phase.String(),
		"received", acq.received.String(),
		"swaps", len(acq.swaps))
	return phase
}

func (o *Orchestrator) buyExact(ctx context.Context, req domain.DistributionRequest, acq *acquisition) bool {
	preferred := o.providers.Preferred()
	if !preferred.Supports(aggDomain.BuyExactOut) {
		o.logger.Debug(ctx, "preferred provider cannot buy exact out",
			"transaction_id", req.TransactionID, "provider", preferred.Provider())
		acq.lastErr = apperror.New(apperror.CodeUnsupportedMode, apperror.WithContext(string(preferred.Provider())))
		return false
	}
	out := o.executor.ExecuteBuy(ctx, preferred, acq.target, o.chain.PoolAddress())
	return o.observe(ctx, req, acq, domain.PhaseBuyExact, out)
}

// sellEstimated prices `want` of the target token, inflates the stablecoin by
// bufferBps and sells it on the first provider that succeeds.
func (o *Orchestrator) sellEstimated(ctx context.Context, req domain.DistributionRequest, acq *acquisition, want asset.Amount, bufferBps int, phase domain.Phase) bool {
	rate, err := o.estimator.Estimate(ctx, want, o.chain.PoolAddress())
	if err != nil {
		acq.lastErr = err
		o.logger.Warn(ctx, "cannot price acquisition", "transaction_id", req.TransactionID, "phase", phase.String(), "error", err)
		return false
	}
	source, err := rate.SourceFor(want)
	if err != nil {
		acq.lastErr = err
		return false
	}
	return o.sellFirst(ctx, req, acq, phase, source.AddBps(bufferBps))
}

// sellChunks sells the target in equal chunks, one at a time, stopping once
// the running total covers the target or a chunk cannot be filled.
func (o *Orchestrator) sellChunks(ctx context.Context, req domain.DistributionRequest, acq *acquisition) bool {
	policy := o.config.Policy
	chunks, err := policy.PlanChunks(acq.target)
	if err != nil {
		acq.lastErr = err
		return false
	}

	rate, err := o.estimator.Estimate(ctx, chunks[0], o.chain.PoolAddress())
	if err != nil {
		acq.lastErr = err
		o.logger.Warn(ctx, "cannot price chunks", "transaction_id", req.TransactionID, "error", err)
		return false
	}

	var swapped bool
	for i, chunk := range chunks {
		if acq.sufficient() {
			break
		}
		source, err := rate.SourceFor(chunk)
		if err != nil {
			acq.lastErr = err
			break
		}

		o.logger.Info(ctx, "selling chunk",
			"transaction_id", req.TransactionID,
			"chunk", i+1,
			"of", len(chunks),
			"target_chunk", chunk.String(),
			"source", source.String())

		if !o.sellFirst(ctx, req, acq, domain.PhaseChunked, source.AddBps(policy.BufferBps)) {
			break
		}
		swapped = true
	}
	return swapped
}

// sellFirst tries providers in fallback order until one sell succeeds.
func (o *Orchestrator) sellFirst(ctx context.Context, req domain.DistributionRequest, acq *acquisition, phase domain.Phase, source asset.Amount) bool {
	for _, adapter := range o.providers.Ordered() {
		if ctx.Err() != nil {
			acq.lastErr = ctx.Err()
			return false
		}
		if o.sellOn(ctx, req, acq, phase, adapter, source) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) sellOn(ctx context.Context, req domain.DistributionRequest, acq *acquisition, phase domain.Phase, adapter aggApp.Adapter, source asset.Amount) bool {
	out := o.executor.ExecuteSell(ctx, adapter, source, o.chain.PoolAddress())
	return o.observe(ctx, req, acq, phase, out)
}

// observe folds one outcome into the running total.
func (o *Orchestrator) observe(ctx context.Context, req domain.DistributionRequest, acq *acquisition, phase domain.Phase, out domain.SwapOutcome) bool {
	out.Phase = phase
	acq.swaps = append(acq.swaps, out)

	o.metrics.swaps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(out.Provider)),
		attribute.String("phase", phase.String()),
		attribute.Bool("success", out.Success),
	))

	if !out.Success {
		acq.lastErr = out.Err
		return false
	}
	total, err := acq.received.Add(out.AmountOut)
	if err != nil {
		acq.lastErr = err
		return false
	}
	acq.received = total
	return true
}

// checkBalance compares the pool balance with the running total. Balance
// reads can lag the swaps, so a mismatch is only logged.
func (o *Orchestrator) checkBalance(ctx context.Context, acq *acquisition) {
	bal, err := o.chain.BalanceOf(ctx, o.pair.Target.Address(), o.chain.PoolAddress())
	if err != nil {
		o.logger.Debug(ctx, "pool balance read failed", "error", err)
		return
	}
	if bal.Cmp(acq.target.Raw()) < 0 {
		o.logger.Warn(ctx, "pool balance below target, trusting swap receipts",
			"balance", asset.NewAmount(o.pair.Target, bal).String(),
			"received", acq.received.String(),
			"target", acq.target.String())
	}
}

func (o *Orchestrator) transfer(ctx context.Context, req domain.DistributionRequest, recipient common.Address, amount asset.Amount) (*domain.Result, error) {
	id := req.TransactionID
	hash, receipt, err := o.chain.Transfer(ctx, o.pair.Target.Address(), recipient, amount.Raw())

	switch {
	case err != nil && hash != (common.Hash{}):
		// Broadcast but unconfirmed: keep the hash so a retry does not pay twice.
		cause := apperror.New(apperror.CodeTransferUnconfirmed, apperror.WithContext(hash.Hex()), apperror.WithCause(err))
		o.write(ctx, id, domain.RecordUpdate{
			Status:       domain.StatusPending,
			TxHash:       hash.Hex(),
			AmountSent:   amount.ToDecimal().String(),
			ErrorMessage: "transfer unconfirmed",
			TargetAmount: req.TargetAmount.String(),
			Recipient:    req.Recipient,
		})
		o.logger.Warn(ctx, "transfer unconfirmed", "transaction_id", id, "tx_hash", hash.Hex(), "error", err)
		return &domain.Result{
			TransactionID: id,
			Status:        domain.StatusPending,
			TxHash:        hash.Hex(),
			AmountSent:    amount.ToDecimal().String(),
			ErrorMessage:  "transfer unconfirmed",
		}, cause
	case err != nil:
		return o.fail(ctx, req, domain.StatusPending, "", apperror.Wrap(err, apperror.CodeTransferFailed, "transfer"))
	case !receipt.Succeeded():
		return o.fail(ctx, req, domain.StatusPending, "",
			apperror.New(apperror.CodeTransferFailed, apperror.WithContext("reverted "+hash.Hex())))
	}

	now := time.Now().UTC()
	o.write(ctx, id, domain.RecordUpdate{
		Status:       domain.StatusCompleted,
		TxHash:       hash.Hex(),
		AmountSent:   amount.ToDecimal().String(),
		CompletedAt:  &now,
		TargetAmount: req.TargetAmount.String(),
		Recipient:    req.Recipient,
	})

	o.logger.Info(ctx, "distribution completed",
		"transaction_id", id,
		"tx_hash", hash.Hex(),
		"amount", amount.String(),
		"recipient", recipient.Hex())
	return &domain.Result{
		TransactionID: id,
		Status:        domain.StatusCompleted,
		TxHash:        hash.Hex(),
		AmountSent:    amount.ToDecimal().String(),
	}, nil
}

// replay answers a run for a record that already has a transfer. A pending
// record with a hash is reconciled against its receipt. A reverted transfer
// paid nothing, so the record stays pending with its hash cleared and the
// next run may pay.
func (o *Orchestrator) replay(ctx context.Context, record *domain.TransactionRecord) (*domain.Result, error) {
	res := &domain.Result{
		TransactionID: record.TransactionID,
		Status:        record.Status,
		TxHash:        record.TxHash,
		AmountSent:    record.AmountSent,
		Replayed:      true,
	}
	if record.Status == domain.StatusCompleted || record.TxHash == "" {
		o.logger.Info(ctx, "distribution already settled", "transaction_id", record.TransactionID, "tx_hash", record.TxHash)
		return res, nil
	}

	hash := common.HexToHash(record.TxHash)
	receipt, err := o.chain.Receipt(ctx, hash)
	switch {
	case err != nil || receipt == nil:
		o.logger.Info(ctx, "transfer still unconfirmed", "transaction_id", record.TransactionID, "tx_hash", record.TxHash, "error", err)
		return res, nil
	case receipt.Succeeded():
		now := time.Now().UTC()
		o.write(ctx, record.TransactionID, domain.RecordUpdate{
			Status:      domain.StatusCompleted,
			TxHash:      record.TxHash,
			AmountSent:  record.AmountSent,
			CompletedAt: &now,
		})
		res.Status = domain.StatusCompleted
		o.logger.Info(ctx, "unconfirmed transfer reconciled", "transaction_id", record.TransactionID, "tx_hash", record.TxHash)
		return res, nil
	default:
		cause := apperror.New(apperror.CodeTransferFailed, apperror.WithContext("reverted "+record.TxHash))
		o.write(ctx, record.TransactionID, domain.RecordUpdate{
			Status:       domain.StatusPending,
			ClearTxHash:  true,
			ErrorMessage: errorMessage(cause),
		})
		res.TxHash = ""
		res.Status = domain.StatusPending
		res.ErrorMessage = errorMessage(cause)
		return res, cause
	}
}

// fail records a failed run and builds its result.
func (o *Orchestrator) fail(ctx context.Context, req domain.DistributionRequest, status domain.Status, txHash string, cause error) (*domain.Result, error) {
	msg := errorMessage(cause)
	o.write(ctx, req.TransactionID, domain.RecordUpdate{
		Status:       status,
		TxHash:       txHash,
		ErrorMessage: msg,
		TargetAmount: req.TargetAmount.String(),
		Recipient:    req.Recipient,
	})

	o.logger.Error(ctx, "distribution failed",
		"transaction_id", req.TransactionID,
		"status", status,
		"code", apperror.GetCode(cause),
		"error", cause)
	return &domain.Result{
		TransactionID: req.TransactionID,
		Status:        status,
		TxHash:        txHash,
		ErrorMessage:  msg,
	}, cause
}

func (o *Orchestrator) write(ctx context.Context, id string, u domain.RecordUpdate) {
	if err := o.ledger.Update(ctx, id, u); err != nil {
		o.logger.Error(ctx, "ledger update failed", "transaction_id", id, "status", u.Status, "error", err)
	}
}

// errorMessage is the short text stored in the ledger: code and context,
// without the provider error chain.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var msg string
	var app *apperror.AppError
	if errors.As(err, &app) {
		msg = string(app.Code) + ": " + app.Message
		if app.Context != "" {
			msg += " (" + app.Context + ")"
		}
	} else {
		msg = err.Error()
	}
	return strings.TrimSpace(msg)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
