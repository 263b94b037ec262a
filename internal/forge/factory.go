package forge

import (
	"context"
	"fmt"

	"yaver/internal/config"
	"yaver/internal/logging"
)

// NewFromConfig constructs the forge client named by the configuration.
func NewFromConfig(cfg *config.Config) (Client, error) {
	timeout, err := cfg.ForgeTimeout()
	if err != nil {
		return nil, fmt.Errorf("forge.timeout: %w", err)
	}
	healthTimeout, err := cfg.ForgeHealthTimeout()
	if err != nil {
		return nil, fmt.Errorf("forge.health_timeout: %w", err)
	}

	var client Client
	switch cfg.Forge.Provider {
	case "gitea", "":
		if cfg.Forge.BaseURL == "" {
			return nil, fmt.Errorf("forge.base_url required for gitea")
		}
		client = NewGiteaClient(GiteaConfig{
			BaseURL:       cfg.Forge.BaseURL,
			Token:         cfg.Forge.Token,
			Timeout:       timeout,
			HealthTimeout: healthTimeout,
		})
	case "github":
		client = NewGitHubClient(GitHubConfig{
			BaseURL:       cfg.Forge.BaseURL,
			Token:         cfg.Forge.Token,
			Timeout:       timeout,
			HealthTimeout: healthTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown forge provider: %q", cfg.Forge.Provider)
	}

	client.SetRepo(cfg.Forge.Owner, cfg.Forge.Repo)
	return client, nil
}

// ResolveIdentity determines the login the agent operates as. The live
// account is preferred; the configured agent_username is the fallback
// when the user endpoint is unavailable. With neither, the session must
// not start.
func ResolveIdentity(ctx context.Context, client Client, fallback string) (string, error) {
	user, err := client.GetUser(ctx)
	if err == nil && user.Login != "" {
		return user.Login, nil
	}
	if fallback != "" {
		logging.ForgeWarn("user lookup failed (%v), using configured agent_username %q", err, fallback)
		return fallback, nil
	}
	return "", ErrAgentIdentityUnknown
}
