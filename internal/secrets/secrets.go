// Package secrets pulls credentials from AWS SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/zerodha/logf"
)

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("secrets: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("secrets: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("secrets: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Resolve fills credentials still empty in cfg from <prefix>/<name>.
// Values already set through the config file or env are kept. Missing
// parameters are skipped; any other lookup failure is returned.
func Resolve(ctx context.Context, cfg *config.Config, getter Getter, log logf.Logger) (int, error) {
	prefix := strings.TrimSuffix(cfg.Secrets.SSMPrefix, "/")
	if prefix == "" {
		return 0, nil
	}

	targets := []struct {
		name string
		dst  *string
	}{
		{"whatsapp-access-token", &cfg.WhatsApp.AccessToken},
		{"meta-app-secret", &cfg.WhatsApp.AppSecret},
		{"whatsapp-verify-token", &cfg.WhatsApp.VerifyToken},
		{"ai-api-key", &cfg.AI.APIKey},
		{"jwt-secret", &cfg.Auth.JWTSecret},
		{"events-secret", &cfg.Events.Secret},
	}

	resolved := 0
	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		name := prefix + "/" + t.name
		v, err := getter.GetParameter(ctx, name)
		if errors.Is(err, ErrNotFound) {
			log.Warn("SSM parameter not found", "name", name)
			continue
		}
		if err != nil {
			return resolved, err
		}
		*t.dst = v
		resolved++
	}

	log.Info("Resolved secrets from SSM", "prefix", prefix, "count", resolved)
	return resolved, nil
}
