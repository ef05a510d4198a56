package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/contraverify/internal/etherscan"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
)

// LoggingMiddleware returns an Explorer middleware that logs and times every
// remote call.
func LoggingMiddleware(logger *slog.Logger) func(Explorer) Explorer {
	return func(next Explorer) Explorer {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Explorer
	logger *slog.Logger
}

func (m *loggingMiddleware) IsVerified(ctx context.Context, address string) (bool, error) {
	start := time.Now()
	ok, err := m.next.IsVerified(ctx, address)
	metrics.ExplorerRequest("getabi", time.Since(start))
	m.logger.Debug("IsVerified",
		"address", address,
		"verified", ok,
		"duration", time.Since(start),
		"error", err,
	)
	return ok, err
}

func (m *loggingMiddleware) SubmitVerification(ctx context.Context, req etherscan.VerifyRequest) (string, error) {
	start := time.Now()
	guid, err := m.next.SubmitVerification(ctx, req)
	metrics.ExplorerRequest("verifysourcecode", time.Since(start))
	m.logger.Info("SubmitVerification",
		"contract", req.ContractName,
		"address", req.Address,
		"compiler", req.CompilerVersion,
		"libraries", len(req.Libraries),
		"constructorArgs", req.ConstructorArguments != "",
		"guid", guid,
		"duration", time.Since(start),
		"error", err,
	)
	return guid, err
}

func (m *loggingMiddleware) CheckStatus(ctx context.Context, guid string) (*etherscan.VerifyStatus, error) {
	start := time.Now()
	status, err := m.next.CheckStatus(ctx, guid)
	metrics.ExplorerRequest("checkverifystatus", time.Since(start))
	attrs := []any{"guid", guid, "duration", time.Since(start), "error", err}
	if status != nil {
		attrs = append(attrs, "status", status.Status, "result", status.Result)
	}
	m.logger.Debug("CheckStatus", attrs...)
	return status, err
}
