package salesforce

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/sflogs/internal/model"
)

// Session is the connection info of an org authorized in the sf CLI.
type Session struct {
	InstanceURL string
	AccessToken string
	APIVersion  string
	Username    string
	OrgID       string
}

// Config returns a client config for the session.
func (s Session) Config() Config {
	return Config{InstanceURL: s.InstanceURL, AccessToken: s.AccessToken, APIVersion: s.APIVersion}
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(out) > 0 {
		// sf prints a JSON error document on stdout with a non-zero exit.
		return out, nil
	}
	return out, err
}

type orgDisplay struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Name    string `json:"name"`
	Result  struct {
		ID          string `json:"id"`
		AccessToken string `json:"accessToken"`
		InstanceURL string `json:"instanceUrl"`
		APIVersion  string `json:"apiVersion"`
		Username    string `json:"username"`
	} `json:"result"`
}

// DiscoverSession reads the access token and instance URL of targetOrg
// (or the default org when empty) from `sf org display --json`.
func DiscoverSession(ctx context.Context, targetOrg string, run CommandRunner) (Session, error) {
	if run == nil {
		run = ExecRunner
	}
	args := []string{"org", "display", "--json"}
	if targetOrg != "" {
		args = append(args, "--target-org", targetOrg)
	}
	out, err := run(ctx, "sf", args...)
	if err != nil {
		return Session{}, fmt.Errorf("%w: sf org display: %w", model.ErrAuth, err)
	}

	var doc orgDisplay
	if err := json.Unmarshal(out, &doc); err != nil {
		return Session{}, fmt.Errorf("%w: parse sf org display output: %w", model.ErrAuth, err)
	}
	if doc.Status != 0 {
		msg := strings.TrimSpace(doc.Message)
		if msg == "" {
			msg = doc.Name
		}
		return Session{}, fmt.Errorf("%w: sf org display: %s", model.ErrAuth, msg)
	}
	if doc.Result.AccessToken == "" || doc.Result.InstanceURL == "" {
		return Session{}, fmt.Errorf("%w: org %q has no active session", model.ErrAuth, targetOrg)
	}
	return Session{
		InstanceURL: doc.Result.InstanceURL,
		AccessToken: doc.Result.AccessToken,
		APIVersion:  doc.Result.APIVersion,
		Username:    doc.Result.Username,
		OrgID:       doc.Result.ID,
	}, nil
}
