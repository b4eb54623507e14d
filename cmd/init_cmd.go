package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/chatclone/internal/config"
	"github.com/nextlevelbuilder/chatclone/internal/crypto"
)

// Where init stores secrets.
const (
	secretPlain   = "plain"
	secretKeyring = "keyring"
	secretAES     = "aes-gcm"
)

type initAnswers struct {
	DBPath   string
	Identity string
	DBKey    string
	BaseDir  string
	Provider string
	APIKey   string
	Secrets  string
}

func initCmd(root *rootOptions) *cobra.Command {
	var (
		ans     initAnswers
		noInput bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file",
		Long: `Ask for the archive location, its key and the model provider, then write
the config file. Secrets can stay in the file, go to the OS keyring, or be
encrypted with $CHATCLONE_ENCRYPTION_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configPath()
			if _, err := os.Stat(path); err == nil && !force {
				if noInput {
					return fmt.Errorf("%s exists (use --force to overwrite)", path)
				}
				overwrite := false
				if err := huh.NewConfirm().Title(path + " exists. Overwrite?").Value(&overwrite).Run(); err != nil {
					return err
				}
				if !overwrite {
					return nil
				}
			}
			if !noInput {
				if err := initForm(&ans).Run(); err != nil {
					return err
				}
			}

			dbKeyRef, err := storeSecret(ans.DBKey, ans.Secrets, "db_key")
			if err != nil {
				return err
			}
			apiKeyRef, err := storeSecret(ans.APIKey, ans.Secrets, "llm_api_key")
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := os.WriteFile(path, []byte(renderConfig(ans, dbKeyRef, apiKeyRef)), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Wrote"), path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&ans.DBPath, "db-path", "", "decrypted chat archive")
	f.StringVar(&ans.Identity, "my-id", "", "your own account id in the archive")
	f.StringVar(&ans.DBKey, "db-key", "", "archive key")
	f.StringVar(&ans.BaseDir, "base-dir", "", "where memory and tone guides are kept (default ~/.chatclone)")
	f.StringVar(&ans.Provider, "provider", "openai", "model provider: openai, dashscope or ollama")
	f.StringVar(&ans.APIKey, "api-key", "", "model provider API key")
	f.StringVar(&ans.Secrets, "secrets", secretPlain, "where to keep secrets: plain, keyring or aes-gcm")
	f.BoolVar(&noInput, "no-input", false, "use flags only, do not prompt")
	f.BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func initForm(ans *initAnswers) *huh.Form {
	required := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("required")
		}
		return nil
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Chat archive path").Value(&ans.DBPath).Validate(required),
			huh.NewInput().Title("Your account id").Description("Messages from this id are yours.").Value(&ans.Identity).Validate(required),
			huh.NewInput().Title("Archive key").EchoMode(huh.EchoModePassword).Value(&ans.DBKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Model provider").
				Options(huh.NewOptions("openai", "dashscope", "ollama")...).
				Value(&ans.Provider),
			huh.NewInput().Title("API key").Description("Leave empty for ollama.").
				EchoMode(huh.EchoModePassword).Value(&ans.APIKey),
			huh.NewSelect[string]().Title("Keep secrets").
				Options(
					huh.NewOption("in the config file", secretPlain),
					huh.NewOption("in the OS keyring", secretKeyring),
					huh.NewOption("encrypted with $"+config.EnvEncryptionKey, secretAES),
				).
				Value(&ans.Secrets),
		),
	).WithShowHelp(true)
}

// storeSecret returns the config reference for value under the chosen storage.
func storeSecret(value, storage, account string) (string, error) {
	if value == "" {
		return "", nil
	}
	switch storage {
	case "", secretPlain:
		return value, nil
	case secretKeyring:
		if err := keyring.Set(config.KeyringService, account, value); err != nil {
			return "", fmt.Errorf("save %s to keyring: %w", account, err)
		}
		return "keyring:" + account, nil
	case secretAES:
		key := os.Getenv(config.EnvEncryptionKey)
		if key == "" {
			return "", fmt.Errorf("%w: set %s", crypto.ErrNoKey, config.EnvEncryptionKey)
		}
		return crypto.Encrypt(value, key)
	default:
		return "", fmt.Errorf("unknown secret storage %q", storage)
	}
}

func renderConfig(ans initAnswers, dbKeyRef, apiKeyRef string) string {
	q := func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	}
	var b strings.Builder
	b.WriteString("// chatclone config. Environment variables CHATCLONE_* override these values.\n{\n")
	b.WriteString("  store: {\n")
	fmt.Fprintf(&b, "    db_path: %s,\n", q(ans.DBPath))
	fmt.Fprintf(&b, "    db_key: %s,\n", q(dbKeyRef))
	fmt.Fprintf(&b, "    my_id: %s,\n", q(ans.Identity))
	b.WriteString("  },\n")
	if ans.BaseDir != "" {
		fmt.Fprintf(&b, "  base_dir: %s,\n", q(ans.BaseDir))
	}
	b.WriteString("  llm: {\n")
	fmt.Fprintf(&b, "    provider: %s,\n", q(ans.Provider))
	if apiKeyRef != "" {
		fmt.Fprintf(&b, "    api_key: %s,\n", q(apiKeyRef))
	}
	b.WriteString("    // embed_rps: 5, cache_size: 256,\n")
	b.WriteString("  },\n")
	b.WriteString("  agent: { top_k: 5, input_guard: \"warn\" },\n")
	b.WriteString("}\n")
	return b.String()
}
