// internal/captcha/captcha.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	recaptcha "cloud.google.com/go/recaptchaenterprise/v2/apiv1"
	"cloud.google.com/go/recaptchaenterprise/v2/apiv1/recaptchaenterprisepb"
)

// minScore is the acceptance threshold for the reCAPTCHA risk score.
const minScore = 0.5

// ErrRejected is returned for any token the assessment does not clear:
// invalid token, action mismatch, or low score. Callers map it to 401 and
// must not leak which check failed.
var ErrRejected = errors.New("captcha rejected")

// Verifier gates an HTTP action on a client-supplied captcha token.
type Verifier interface {
	// Verify returns nil iff token is a valid assessment for expectedAction.
	Verify(ctx context.Context, token, expectedAction string) error
}

// Enterprise verifies tokens against the Google reCAPTCHA Enterprise
// assessment API.
type Enterprise struct {
	client    *recaptcha.Client
	projectID string
	siteKey   string
}

// NewEnterprise dials the assessment service using ambient Google credentials.
func NewEnterprise(ctx context.Context, projectID, siteKey string) (*Enterprise, error) {
	client, err := recaptcha.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("recaptcha client: %w", err)
	}
	return &Enterprise{
		client:    client,
		projectID: projectID,
		siteKey:   siteKey,
	}, nil
}

// Close releases the underlying gRPC connection.
func (e *Enterprise) Close() error {
	return e.client.Close()
}

// Verify creates an assessment for token and applies the acceptance policy.
// The call is bounded by its own deadline so a slow assessment backend cannot
// pin an HTTP handler indefinitely.
func (e *Enterprise) Verify(ctx context.Context, token, expectedAction string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := e.client.CreateAssessment(ctx, &recaptchaenterprisepb.CreateAssessmentRequest{
		Parent: fmt.Sprintf("projects/%s", e.projectID),
		Assessment: &recaptchaenterprisepb.Assessment{
			Event: &recaptchaenterprisepb.Event{
				Token:   token,
				SiteKey: e.siteKey,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}

	props := resp.GetTokenProperties()
	return evaluate(props.GetValid(), props.GetAction(), resp.GetRiskAnalysis().GetScore(), expectedAction)
}

// evaluate applies the acceptance policy to an assessment verdict.
func evaluate(valid bool, action string, score float32, expectedAction string) error {
	if !valid || action != expectedAction || score < minScore {
		return ErrRejected
	}
	return nil
}

// Disabled is a Verifier that accepts everything. Used in --test mode.
type Disabled struct{}

// Verify always succeeds.
func (Disabled) Verify(ctx context.Context, token, expectedAction string) error {
	return nil
}
