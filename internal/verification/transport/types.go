package transport

import (
	"time"

	"github.com/pendergraft/contraverify/internal/storage"
)

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID              string    `json:"id"`
	Network         string    `json:"network"`
	ChainID         int64     `json:"chainId"`
	APIURL          string    `json:"apiUrl,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	AlreadyVerified int       `json:"alreadyVerified"`
	Succeeded       int       `json:"succeeded"`
	Failed          int       `json:"failed"`
	Skipped         int       `json:"skipped"`
	Error           string    `json:"error,omitempty"`
}

// RunResponse is a run with its per-contract results.
type RunResponse struct {
	RunSummary
	Results []ResultResponse `json:"results"`
}

// ResultResponse is the recorded outcome for one artifact.
type ResultResponse struct {
	RunID        string    `json:"runId"`
	ArtifactKey  string    `json:"artifact"`
	ContractName string    `json:"contractName"`
	Address      string    `json:"address,omitempty"`
	Outcome      string    `json:"outcome"`
	GUID         string    `json:"guid,omitempty"`
	Message      string    `json:"message,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// RunListResponse is the paginated run listing.
type RunListResponse struct {
	Data       []RunSummary `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRunSummary converts a ledger run without its results.
func NewRunSummary(run storage.Run) RunSummary {
	return RunSummary{
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
}

// NewRunResponse converts a ledger run with its results.
func NewRunResponse(run storage.Run) RunResponse {
	resp := RunResponse{
		RunSummary: NewRunSummary(run),
		Results:    make([]ResultResponse, len(run.Results)),
	}
	for i, res := range run.Results {
		resp.Results[i] = NewResultResponse(res)
	}
	return resp
}

// NewResultResponse converts one recorded result.
func NewResultResponse(r storage.Result) ResultResponse {
	return ResultResponse{
		RunID:        r.RunID,
		ArtifactKey:  r.ArtifactKey,
		ContractName: r.ContractName,
		Address:      r.Address,
		Outcome:      r.Outcome,
		GUID:         r.GUID,
		Message:      r.Message,
		RecordedAt:   r.RecordedAt,
	}
}
