package storageapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sethvargo/go-retry"
)

// Job statuses reported by the Storage API.
const (
	JobStatusWaiting    = "waiting"
	JobStatusProcessing = "processing"
	JobStatusSuccess    = "success"
	JobStatusError      = "error"
)

// Job is an asynchronous Storage API operation.
type Job struct {
	ID            int64           `json:"id"`
	Status        string          `json:"status"`
	OperationName string          `json:"operationName"`
	Results       json.RawMessage `json:"results"`
	Error         *JobError       `json:"error"`
}

// JobError is the failure detail of a job in the error state.
type JobError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ExceptionID string `json:"exceptionId"`
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.Status == JobStatusSuccess || j.Status == JobStatusError
}

// GetJob fetches the current state of a job.
func (c *Client) GetJob(ctx context.Context, id int64) (*Job, error) {
	body, err := c.get(ctx, "/jobs/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("parse job %d: %w", id, err)
	}
	return &job, nil
}

// WaitForJob polls a job with exponential backoff until it finishes or the
// job timeout elapses. A job that ends in error is returned as *Error.
func (c *Client) WaitForJob(ctx context.Context, id int64) (*Job, error) {
	backoff := retry.NewExponential(c.opts.JobPollInterval)
	backoff = retry.WithCappedDuration(5*c.opts.JobPollInterval, backoff)
	backoff = retry.WithMaxDuration(c.opts.JobTimeout, backoff)

	var job *Job
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		j, err := c.GetJob(ctx, id)
		if err != nil {
			return err
		}
		job = j
		if !j.Finished() {
			return retry.RetryableError(errJobPending)
		}
		return nil
	})
	if errors.Is(err, errJobPending) {
		return nil, fmt.Errorf("job %d did not finish within %s", id, c.opts.JobTimeout)
	}
	if err != nil {
		return nil, err
	}

	if job.Status == JobStatusError {
		apiErr := &Error{JobID: job.ID, Message: "unknown error"}
		if job.Error != nil {
			apiErr.Code = job.Error.Code
			apiErr.Message = job.Error.Message
			apiErr.ExceptionID = job.Error.ExceptionID
		}
		return job, apiErr
	}
	return job, nil
}
