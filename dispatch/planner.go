package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetsim/fleetsim/ga"
)

// ReasonGA tags assignments that came out of a GA replan.
const ReasonGA = "ga_planned"

// DefaultPlanTimeout bounds one optimizer call; on expiry the dispatcher
// clears single-flight and waits for the next trigger.
const DefaultPlanTimeout = 30 * time.Second

// Planner produces a whole-fleet assignment for a replan request.
type Planner interface {
	Plan(ctx context.Context, req ga.OptimizeRequest) ([]ga.Assignment, error)
}

// HTTPPlanner calls the optimizer service over HTTP.
type HTTPPlanner struct {
	URL    string
	Client *http.Client
}

// NewHTTPPlanner returns a planner for the optimizer at baseURL.
func NewHTTPPlanner(baseURL string) *HTTPPlanner {
	return &HTTPPlanner{
		URL:    baseURL,
		Client: &http.Client{Timeout: DefaultPlanTimeout},
	}
}

// Plan posts the request to /optimize and decodes the assignment list.
func (p *HTTPPlanner) Plan(ctx context.Context, req ga.OptimizeRequest) ([]ga.Assignment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode optimize request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL+"/optimize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build optimize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("optimize call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("optimize call: status %d", resp.StatusCode)
	}

	var out ga.OptimizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode optimize response: %w", err)
	}
	return out.Assignments, nil
}

// LocalPlanner runs the GA in-process; used by `fleetsim run` and tests.
type LocalPlanner struct {
	Params ga.Params
}

// Plan invokes the optimizer directly.
func (p *LocalPlanner) Plan(_ context.Context, req ga.OptimizeRequest) ([]ga.Assignment, error) {
	assignments, _ := ga.Optimize(req.Seed, req.Robots, req.PendingJobs, req.SimTimeS, p.Params)
	return assignments, nil
}
