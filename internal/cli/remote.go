package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/verification/transport"
	"github.com/pendergraft/contraverify/pkg/client"
)

// remoteRuns reads the ledger of a history server.
type remoteRuns struct {
	client *client.Client
}

var _ transport.Service = (*remoteRuns)(nil)

func (r *remoteRuns) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	run, err := r.client.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	out := fromRemoteRun(*run)
	return &out, nil
}

func (r *remoteRuns) ListRuns(ctx context.Context, filter storage.RunFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Run], error) {
	resp, err := r.client.ListRuns(ctx, client.ListRunsOptions{
		Network: filter.Network,
		Limit:   pagination.Limit,
		Cursor:  pagination.Cursor,
	})
	if err != nil {
		return nil, err
	}

	page := &storage.PaginatedResult[storage.Run]{
		Data:       make([]storage.Run, len(resp.Data)),
		HasMore:    resp.Pagination.HasMore,
		NextCursor: resp.Pagination.NextCursor,
	}
	for i, run := range resp.Data {
		page.Data[i] = fromRemoteRun(run)
	}
	return page, nil
}

func (r *remoteRuns) ListResultsByAddress(ctx context.Context, network, address string, limit int) ([]storage.Result, error) {
	results, err := r.client.ContractHistory(ctx, network, address, limit)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Result, len(results))
	for i, res := range results {
		out[i] = fromRemoteResult(res)
	}
	return out, nil
}

func fromRemoteRun(run client.Run) storage.Run {
	out := storage.Run{
		ID:              run.ID,
		Network:         run.Network,
		ChainID:         run.ChainID,
		APIURL:          run.APIURL,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
		AlreadyVerified: run.AlreadyVerified,
		Succeeded:       run.Succeeded,
		Failed:          run.Failed,
		Skipped:         run.Skipped,
		Error:           run.Error,
	}
	for _, res := range run.Results {
		out.Results = append(out.Results, fromRemoteResult(res))
	}
	return out
}

func fromRemoteResult(res client.Result) storage.Result {
	return storage.Result{
		RunID:        res.RunID,
		ArtifactKey:  res.ArtifactKey,
		ContractName: res.ContractName,
		Address:      res.Address,
		Outcome:      res.Outcome,
		GUID:         res.GUID,
		Message:      res.Message,
		RecordedAt:   res.RecordedAt,
	}
}
