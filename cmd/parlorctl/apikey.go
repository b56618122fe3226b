package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/model"
	"github.com/parlor/parlor/internal/repository"
)

type bootstrapOptions struct {
	databaseURL string
	userID      string
	email       string
	name        string
	scopes      string
	env         string
	format      string
}

type bootstrapOutput struct {
	UserID    string   `json:"user_id"`
	Email     string   `json:"email"`
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Scopes    []string `json:"scopes"`
}

// bootstrapStore is the slice of the repository used to mint a key.
type bootstrapStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetOrCreateUser(ctx context.Context, user *model.User) (*model.User, error)
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
}

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys directly in the database",
	}
	cmd.AddCommand(newAPIKeyCreateCmd())
	return cmd
}

func newAPIKeyCreateCmd() *cobra.Command {
	opts := &bootstrapOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (if needed) and an API key without going through the API",
		Long: "Writes straight to PostgreSQL. Use it to mint the first admin key;\n" +
			"afterwards prefer POST /api/api-keys.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.databaseURL == "" {
				return errors.New("DATABASE_URL is required (--database-url)")
			}
			scopes, err := parseScopes(opts.scopes)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			repo, err := repository.New(ctx, opts.databaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer repo.Close()

			out, err := bootstrapKey(ctx, repo, opts, scopes, time.Now().UTC())
			if err != nil {
				return err
			}
			return writeBootstrap(cmd.OutOrStdout(), out, opts.format)
		},
	}

	cmd.Flags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.Flags().StringVar(&opts.userID, "user-id", "system", "user ID to own the key")
	cmd.Flags().StringVar(&opts.email, "email", "system@parlor.local", "user email")
	cmd.Flags().StringVar(&opts.name, "name", "bootstrap", "key name")
	cmd.Flags().StringVar(&opts.scopes, "scopes", model.ScopeAdmin, "comma-separated scopes (read,write,admin)")
	cmd.Flags().StringVar(&opts.env, "env", auth.EnvLive, "key environment (live or test)")
	cmd.Flags().StringVar(&opts.format, "format", "plain", "output format: plain or json")
	return cmd
}

func bootstrapKey(ctx context.Context, store bootstrapStore, opts *bootstrapOptions, scopes []string, now time.Time) (*bootstrapOutput, error) {
	user, err := ensureUser(ctx, store, opts.userID, opts.email, now)
	if err != nil {
		return nil, err
	}

	generated, err := auth.GenerateAPIKey(opts.env)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	key := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        user.ID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: model.TierUnlimited,
		Name:          opts.name,
		CreatedAt:     now,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	return &bootstrapOutput{
		UserID:    user.ID,
		Email:     user.Email,
		KeyID:     key.ID,
		Key:       generated.Plaintext,
		KeyPrefix: key.KeyPrefix,
		Scopes:    scopes,
	}, nil
}

func ensureUser(ctx context.Context, store bootstrapStore, userID, email string, now time.Time) (*model.User, error) {
	if existing, err := store.GetUserByID(ctx, userID); err == nil {
		if !strings.EqualFold(existing.Email, email) {
			return nil, fmt.Errorf("user %s exists with different email: %s", userID, existing.Email)
		}
		return existing, nil
	}

	user, err := store.GetOrCreateUser(ctx, &model.User{
		ID:        userID,
		Email:     email,
		Role:      model.RoleAdmin,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if user.ID != userID {
		return nil, fmt.Errorf("email %s already used by user %s", email, user.ID)
	}
	return user, nil
}

func writeBootstrap(w io.Writer, out *bootstrapOutput, format string) error {
	switch strings.ToLower(format) {
	case "plain":
		_, err := fmt.Fprintln(w, out.Key)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("invalid format %q; use plain or json", format)
	}
}

func parseScopes(input string) ([]string, error) {
	var scopes []string
	for _, part := range strings.Split(input, ",") {
		if scope := strings.TrimSpace(part); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	if len(scopes) == 0 {
		return []string{model.ScopeAdmin}, nil
	}
	if err := model.ValidateScopes(scopes); err != nil {
		return nil, err
	}
	return scopes, nil
}
