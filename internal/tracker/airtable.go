package tracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/docketwatch/docketwatch/internal/docket"
)

// Fields maps engine concepts onto tracker column names.
type Fields struct {
	DocketNumber string
	Defendant    string
	CaseName     string
	AttemptCount string
	Status       string
	ErrorText    string
	ArtifactFile string

	Court        string
	NatureOfSuit string
	Cause        string
	Complaint    string
	DateHit      string
	DateFiled    string
}

// DefaultFields matches the production tracker base.
func DefaultFields() Fields {
	return Fields{
		DocketNumber: "Docket Number",
		Defendant:    "Defendant",
		CaseName:     "Case Name",
		AttemptCount: "Complaint Attempt Count",
		Status:       "Complaint Status",
		ErrorText:    "Complaint Error",
		ArtifactFile: "Complaint File",
		Court:        "Court",
		NatureOfSuit: "Nature of Suit",
		Cause:        "Cause",
		Complaint:    "Complaint",
		DateHit:      "Date Hit",
		DateFiled:    "Date Filed",
	}
}

// AirtableConfig holds connection settings for the hosted tracker.
type AirtableConfig struct {
	BaseURL string
	Token   string
	BaseID  string
	Table   string
	// CreateBatchSize caps records per create call; the API rejects more
	// than 10.
	CreateBatchSize int
	// CreatePace spaces out create calls to respect the API rate limit.
	CreatePace time.Duration
	Timeout    time.Duration
}

// Airtable is the hosted-tracker implementation of docket.Tracker.
type Airtable struct {
	client  *resty.Client
	fields  Fields
	cfg     AirtableConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAirtable builds a client for one base/table.
func NewAirtable(cfg AirtableConfig, fields Fields, logger *zap.Logger) (*Airtable, error) {
	if cfg.Token == "" || cfg.BaseID == "" || cfg.Table == "" {
		return nil, fmt.Errorf("tracker token, base id and table are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.airtable.com/v0"
	}
	if cfg.CreateBatchSize <= 0 || cfg.CreateBatchSize > 10 {
		cfg.CreateBatchSize = 10
	}
	if cfg.CreatePace <= 0 {
		cfg.CreatePace = 250 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/%s/%s", cfg.BaseURL, cfg.BaseID, cfg.Table)).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Airtable{
		client:  client,
		fields:  fields,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.CreatePace), 1),
		logger:  logger,
	}, nil
}

type apiRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type listResponse struct {
	Records []apiRecord `json:"records"`
}

type recordsPayload struct {
	Records []apiRecord `json:"records"`
}

// FetchQueue lists jobs eligible for retrieval, capped at limit.
func (a *Airtable) FetchQueue(ctx context.Context, limit, maxAttempts int) ([]docket.Job, error) {
	var out listResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"pageSize":        strconv.Itoa(limit),
			"filterByFormula": string(queueFormula(a.fields, maxAttempts)),
		}).
		SetResult(&out).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	if resp.IsError() {
		return nil, &docket.TrackerAPIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	jobs := make([]docket.Job, 0, len(out.Records))
	for _, rec := range out.Records {
		jobs = append(jobs, a.decodeJob(rec))
	}
	return jobs, nil
}

// Patch applies a partial update to one record.
func (a *Airtable) Patch(ctx context.Context, jobID string, patch docket.JobPatch) error {
	fields := map[string]any{}
	if patch.Status != nil {
		fields[a.fields.Status] = string(*patch.Status)
	}
	if patch.AttemptCount != nil {
		fields[a.fields.AttemptCount] = *patch.AttemptCount
	}
	if patch.ErrorText != nil {
		fields[a.fields.ErrorText] = *patch.ErrorText
	}
	if patch.Artifact != nil {
		fields[a.fields.ArtifactFile] = []map[string]string{{
			"url":      patch.Artifact.URL,
			"filename": patch.Artifact.Filename,
		}}
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"fields": fields}).
		Patch("/" + jobID)
	if err != nil {
		return fmt.Errorf("patch job %s: %w", jobID, err)
	}
	if resp.IsError() {
		return &docket.TrackerAPIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

// CreateRecords appends discovered case records in paced batches.
func (a *Airtable) CreateRecords(ctx context.Context, records []docket.CaseRecord) (int, error) {
	created := 0
	for start := 0; start < len(records); start += a.cfg.CreateBatchSize {
		end := start + a.cfg.CreateBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return created, fmt.Errorf("create pacing: %w", err)
		}

		batch := make([]apiRecord, 0, end-start)
		for _, r := range records[start:end] {
			batch = append(batch, apiRecord{Fields: a.encodeRecord(r)})
		}
		var out listResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetBody(recordsPayload{Records: batch}).
			SetResult(&out).
			Post("")
		if err != nil {
			return created, fmt.Errorf("create records: %w", err)
		}
		if resp.IsError() {
			return created, &docket.TrackerAPIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
		}
		created += len(out.Records)
	}
	return created, nil
}

func (a *Airtable) decodeJob(rec apiRecord) docket.Job {
	job := docket.Job{
		ID:           rec.ID,
		DocketNumber: fieldString(rec.Fields, a.fields.DocketNumber),
		Defendant:    fieldString(rec.Fields, a.fields.Defendant),
		CaseName:     fieldString(rec.Fields, a.fields.CaseName),
		AttemptCount: fieldInt(rec.Fields, a.fields.AttemptCount),
		Status:       docket.JobStatus(fieldString(rec.Fields, a.fields.Status)),
		ErrorText:    fieldString(rec.Fields, a.fields.ErrorText),
	}
	if atts, ok := rec.Fields[a.fields.ArtifactFile].([]any); ok && len(atts) > 0 {
		if att, ok := atts[0].(map[string]any); ok {
			if url, ok := att["url"].(string); ok {
				job.ArtifactURL = url
			}
		}
	}
	return job
}

func (a *Airtable) encodeRecord(r docket.CaseRecord) map[string]any {
	return map[string]any{
		a.fields.Court:        r.Court,
		a.fields.DocketNumber: r.DocketNumber,
		a.fields.Defendant:    r.Defendant,
		a.fields.CaseName:     r.CaseName,
		a.fields.NatureOfSuit: r.NatureOfSuit,
		a.fields.Cause:        r.Cause,
		a.fields.Complaint:    r.Complaint,
		a.fields.DateHit:      r.DateHit,
		a.fields.DateFiled:    r.DateFiled,
	}
}

func fieldString(fields map[string]any, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func fieldInt(fields map[string]any, name string) int {
	switch v := fields[name].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
