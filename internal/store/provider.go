package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/neurokid/insight-agents/internal/provider"
)

// EncryptKeyEnv names the variable holding the hex AES-256 key for stored API keys.
const EncryptKeyEnv = "NEUROKID_ENCRYPT_KEY"

// ErrProviderNotFound is returned for unknown provider ids.
var ErrProviderNotFound = errors.New("provider not found")

// ProviderTypes lists the values accepted in ProviderRow.Type.
var ProviderTypes = []string{"openai", "anthropic", "openai-sdk"}

// ProviderRow is an LLM provider kept in llm_providers. The API key is
// sealed at rest and never serialized.
type ProviderRow struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Endpoint  string            `json:"endpoint"`
	APIKey    string            `json:"-"`
	HasKey    bool              `json:"has_key"`
	Model     string            `json:"model"`
	Extra     map[string]string `json:"extra,omitempty"`
	IsDefault bool              `json:"is_default"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Config converts the row into a provider configuration.
func (p *ProviderRow) Config() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       p.ID,
		Type:     p.Type,
		Name:     p.Name,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Model:    p.Model,
		Extra:    p.Extra,
	}
}

// Validate trims the row in place and checks the required fields.
func (p *ProviderRow) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Type = strings.TrimSpace(strings.ToLower(p.Type))
	p.Endpoint = strings.TrimRight(strings.TrimSpace(p.Endpoint), "/")
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	known := false
	for _, t := range ProviderTypes {
		if p.Type == t {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("type %q must be one of %s", p.Type, strings.Join(ProviderTypes, ", ")))
	}
	return errors.Join(errs...)
}

// keyCipher builds the AEAD from the hex key in EncryptKeyEnv.
func keyCipher() (cipher.AEAD, error) {
	keyHex := os.Getenv(EncryptKeyEnv)
	if keyHex == "" {
		return nil, fmt.Errorf("%s not set", EncryptKeyEnv)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", EncryptKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be 64 hex chars (32 bytes), got %d bytes", EncryptKeyEnv, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// sealAPIKey encrypts plaintext with AES-256-GCM; the nonce is prepended.
func sealAPIKey(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	aead, err := keyCipher()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// openAPIKey reverses sealAPIKey. Empty input is an empty key.
func openAPIKey(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	aead, err := keyCipher()
	if err != nil {
		return "", err
	}
	n := aead.NonceSize()
	if len(sealed) < n {
		return "", errors.New("sealed key too short")
	}
	plain, err := aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open api key: %w", err)
	}
	return string(plain), nil
}

const providerColumns = `id, name, type, endpoint, api_key_enc, model, extra, is_default, created_at, updated_at`

func scanProvider(row pgx.Row) (*ProviderRow, error) {
	var (
		p      ProviderRow
		sealed []byte
		extra  []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Endpoint, &sealed,
		&p.Model, &extra, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	key, err := openAPIKey(sealed)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.ID, err)
	}
	p.APIKey, p.HasKey = key, len(sealed) > 0
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &p.Extra); err != nil {
			return nil, fmt.Errorf("provider %s extra: %w", p.ID, err)
		}
	}
	return &p, nil
}

// SaveProvider inserts p and fills in its generated id and timestamps.
func (s *Store) SaveProvider(ctx context.Context, p *ProviderRow) error {
	if err := p.Validate(); err != nil {
		return err
	}
	sealed, err := sealAPIKey(p.APIKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	extra, err := json.Marshal(p.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO llm_providers (name, type, endpoint, api_key_enc, model, extra)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		p.Name, p.Type, p.Endpoint, sealed, p.Model, extra,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	p.HasKey = len(sealed) > 0
	return nil
}

// UpdateProvider rewrites the row with p.ID. An empty APIKey keeps the stored key.
func (s *Store) UpdateProvider(ctx context.Context, p *ProviderRow) error {
	if err := p.Validate(); err != nil {
		return err
	}
	extra, err := json.Marshal(p.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	sql := `UPDATE llm_providers SET name=$1, type=$2, endpoint=$3, model=$4, extra=$5, updated_at=NOW()
		 WHERE id=$6 RETURNING ` + providerColumns
	args := []interface{}{p.Name, p.Type, p.Endpoint, p.Model, extra, p.ID}
	if p.APIKey != "" {
		sealed, err := sealAPIKey(p.APIKey)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		sql = `UPDATE llm_providers SET name=$1, type=$2, endpoint=$3, model=$4, extra=$5, api_key_enc=$7, updated_at=NOW()
		 WHERE id=$6 RETURNING ` + providerColumns
		args = append(args, sealed)
	}
	got, err := scanProvider(s.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, p.ID)
	}
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	*p = *got
	return nil
}

// DeleteProvider removes the provider with id.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM llm_providers WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return nil
}

// GetProvider returns one provider with its key opened.
func (s *Store) GetProvider(ctx context.Context, id string) (*ProviderRow, error) {
	p, err := scanProvider(s.db.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM llm_providers WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

// ListProviders returns every provider, oldest first.
func (s *Store) ListProviders(ctx context.Context) ([]*ProviderRow, error) {
	rows, err := s.db.Query(ctx, `SELECT `+providerColumns+` FROM llm_providers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var out []*ProviderRow
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetDefaultProvider makes id the only default provider.
func (s *Store) SetDefaultProvider(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE llm_providers SET is_default=true, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if _, err := tx.Exec(ctx, `UPDATE llm_providers SET is_default=false WHERE is_default AND id<>$1`, id); err != nil {
		return fmt.Errorf("clear defaults: %w", err)
	}
	return tx.Commit(ctx)
}
