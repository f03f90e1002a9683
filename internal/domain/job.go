package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Schedule is one explicit firing time. A nil Hour means "every hour at
// Minute". Minute defaults to 0 when absent from the document.
type Schedule struct {
	Hour   *int `bson:"hour,omitempty" json:"hour,omitempty"`
	Minute int  `bson:"minute" json:"minute"`
}

// RetryPolicy configures bounded retries for a step. Fields are pointers so
// a partial policy can fall back per-field to the next level of defaults.
type RetryPolicy struct {
	Retries  *int     `bson:"retries,omitempty" json:"retries,omitempty"`
	DelaySec *float64 `bson:"delay_sec,omitempty" json:"delay_sec,omitempty"`
	Backoff  *float64 `bson:"backoff,omitempty" json:"backoff,omitempty"`
}

// When gates a step on the current local time. A nil slice means no
// constraint; an empty slice rejects everything.
type When struct {
	HourIn   []int `bson:"hour_in,omitempty" json:"hour_in,omitempty"`
	MinuteIn []int `bson:"minute_in,omitempty" json:"minute_in,omitempty"`
}

// Matches reports whether all present predicates accept t.
func (w *When) Matches(t time.Time) bool {
	if w == nil {
		return true
	}
	if w.HourIn != nil && !containsInt(w.HourIn, t.Hour()) {
		return false
	}
	if w.MinuteIn != nil && !containsInt(w.MinuteIn, t.Minute()) {
		return false
	}
	return true
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// StepTypeHTTP is the only step type the executor understands. An absent
// type is treated as http.
const StepTypeHTTP = "http"

// Step is one HTTP action within a job's chain.
type Step struct {
	Type              string            `bson:"type,omitempty" json:"type,omitempty"`
	Name              string            `bson:"name,omitempty" json:"name,omitempty"`
	Method            string            `bson:"method,omitempty" json:"method,omitempty"`
	URL               string            `bson:"url" json:"url"`
	Headers           map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	Params            map[string]string `bson:"params,omitempty" json:"params,omitempty"`
	Body              any               `bson:"body,omitempty" json:"body,omitempty"`
	TimeoutSec        *int              `bson:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
	Retry             *RetryPolicy      `bson:"retry,omitempty" json:"retry,omitempty"`
	When              *When             `bson:"when,omitempty" json:"when,omitempty"`
	ContinueOnFailure bool              `bson:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
	UseCurl           bool              `bson:"use_curl,omitempty" json:"use_curl,omitempty"`
	UseCloudscraper   bool              `bson:"use_cloudscraper,omitempty" json:"use_cloudscraper,omitempty"`
}

// IsHTTP reports whether the step is executable by the HTTP runner.
func (s *Step) IsHTTP() bool {
	return s.Type == "" || s.Type == StepTypeHTTP
}

// DisplayName is the label recorded in step logs.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.URL != "" {
		return s.URL
	}
	return "(http)"
}

// Job is a declarative scheduled job. Jobs are externally managed; the
// agent only reads them. Either Schedules or the flat Hour/Minute pair
// defines when it fires, and either Actions or the flat HTTP fields define
// what it does.
type Job struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Enabled   bool               `bson:"enabled"`
	Schedules []Schedule         `bson:"schedules,omitempty"`
	Hour      *int               `bson:"hour,omitempty"`
	Minute    *int               `bson:"minute,omitempty"`

	Actions []Step `bson:"actions,omitempty"`

	// Flat single-HTTP form, kept for v1 documents without an action chain.
	Method  string            `bson:"method,omitempty"`
	URL     string            `bson:"url,omitempty"`
	Headers map[string]string `bson:"headers,omitempty"`
	Params  map[string]string `bson:"params,omitempty"`
	Body    any               `bson:"body,omitempty"`

	TimeoutSec *int         `bson:"timeout_sec,omitempty"`
	Retry      *RetryPolicy `bson:"retry,omitempty"`
}

// Steps returns the job's action chain. A flat job becomes a one-step chain.
func (j *Job) Steps() []Step {
	if len(j.Actions) > 0 {
		return j.Actions
	}
	name := j.Name
	if name == "" {
		name = "(http)"
	}
	return []Step{{
		Type:       StepTypeHTTP,
		Name:       name,
		Method:     j.Method,
		URL:        j.URL,
		Headers:    j.Headers,
		Params:     j.Params,
		Body:       j.Body,
		TimeoutSec: j.TimeoutSec,
		Retry:      j.Retry,
	}}
}

// DisplayName is the label used in logs and notifications.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return "(no name)"
}
