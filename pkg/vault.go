package pkg

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	vaultFormatID = "$ANSIBLE_VAULT"
	vaultCipher   = "AES256"

	// Payload format 1.1/1.2: PBKDF2-SHA256 with 10000 iterations derives
	// 80 bytes, split into cipher key, HMAC key and CTR IV.
	vaultIterations = 10000
	vaultKeyLength  = 80
)

// VaultString is a value encrypted in the Ansible Vault payload format,
// versions 1.1 and 1.2. Vault payloads in inventories, play vars and extra
// vars are decrypted by the coordinator at load time so workers only ever
// see plaintext.
type VaultString struct {
	Format     string
	Version    string
	VaultID    string // version 1.2 labels payloads with an id
	CipherText string
}

// IsVaultString reports whether a value looks like a vault payload, either
// in the YAML `!vault |` form or starting directly with the header.
func IsVaultString(value string) bool {
	return strings.HasPrefix(value, "!vault |") || strings.HasPrefix(value, vaultFormatID+";")
}

// ParseVaultString splits a vault payload into its header fields and the
// hex ciphertext body.
func ParseVaultString(value string) (*VaultString, error) {
	if !IsVaultString(value) {
		return nil, fmt.Errorf("not a vault payload")
	}

	lines := strings.Split(value, "\n")
	start := 0
	if strings.HasPrefix(value, "!vault |") {
		start = 1
	}
	if len(lines) <= start {
		return nil, fmt.Errorf("vault payload is missing its header line")
	}

	header := strings.Split(strings.TrimSpace(lines[start]), ";")
	if len(header) < 3 {
		return nil, fmt.Errorf("vault header has %d fields, expected at least 3", len(header))
	}
	if header[2] != vaultCipher {
		return nil, fmt.Errorf("unsupported vault cipher %q", header[2])
	}

	var body strings.Builder
	for _, line := range lines[start+1:] {
		body.WriteString(strings.TrimSpace(line))
	}

	vs := &VaultString{
		Format:     header[0],
		Version:    header[1],
		CipherText: body.String(),
	}
	if len(header) > 3 {
		vs.VaultID = header[3]
	}
	return vs, nil
}

// String renders the payload in the on-disk vault format: the header line
// followed by the hex body wrapped at 80 columns, the way ansible-vault
// writes it.
func (v *VaultString) String() string {
	var b strings.Builder
	b.WriteString(v.Format)
	b.WriteString(";")
	b.WriteString(v.Version)
	b.WriteString(";")
	b.WriteString(vaultCipher)
	if v.VaultID != "" {
		b.WriteString(";")
		b.WriteString(v.VaultID)
	}
	for i := 0; i < len(v.CipherText); i += 80 {
		end := i + 80
		if end > len(v.CipherText) {
			end = len(v.CipherText)
		}
		b.WriteString("\n")
		b.WriteString(v.CipherText[i:end])
	}
	return b.String()
}

func deriveVaultKeys(password string, salt []byte) (cipherKey, hmacKey, iv []byte) {
	derived := pbkdf2.Key([]byte(password), salt, vaultIterations, vaultKeyLength, sha256.New)
	return derived[:32], derived[32:64], derived[64:80]
}

// EncryptVault encrypts plaintext as a version 1.1 vault payload:
// AES-256-CTR with PKCS#7 padding and an HMAC-SHA256 over the ciphertext.
func EncryptVault(plaintext, password string) (*VaultString, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	cipherKey, hmacKey, iv := deriveVaultKeys(password, salt)

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padLen := aes.BlockSize - (len(plaintext) % aes.BlockSize)
	if padLen == 0 {
		padLen = aes.BlockSize
	}
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, padded)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(ciphertext)

	// The stored body is hexlify(hexSalt + "\n" + hexHmac + "\n" + hexCipher).
	inner := hex.EncodeToString(salt) + "\n" +
		hex.EncodeToString(mac.Sum(nil)) + "\n" +
		hex.EncodeToString(ciphertext)

	return &VaultString{
		Format:     vaultFormatID,
		Version:    "1.1",
		CipherText: hex.EncodeToString([]byte(inner)),
	}, nil
}

// Decrypt recovers the plaintext. The HMAC is verified before any
// decryption happens, so a wrong password fails cleanly.
func (v *VaultString) Decrypt(password string) (string, error) {
	inner, err := hex.DecodeString(v.CipherText)
	if err != nil {
		return "", fmt.Errorf("failed to decode vault body: %w", err)
	}
	parts := strings.Split(string(inner), "\n")
	if len(parts) != 3 {
		return "", fmt.Errorf("vault body has %d parts, expected 3", len(parts))
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode salt: %w", err)
	}
	expectedMac, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode hmac: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	cipherKey, hmacKey, iv := deriveVaultKeys(password, salt)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), expectedMac) {
		return "", fmt.Errorf("hmac verification failed, wrong vault password?")
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	if len(plaintext) == 0 {
		return "", fmt.Errorf("empty vault plaintext")
	}
	pad := int(plaintext[len(plaintext)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plaintext) {
		return "", fmt.Errorf("invalid vault padding")
	}
	for i := len(plaintext) - pad; i < len(plaintext); i++ {
		if int(plaintext[i]) != pad {
			return "", fmt.Errorf("invalid vault padding")
		}
	}
	return string(plaintext[:len(plaintext)-pad]), nil
}

// DecryptVaultedValues walks a variable structure and replaces every vault
// payload with its plaintext. Maps and lists recurse; everything else
// passes through untouched.
func DecryptVaultedValues(value interface{}, password string) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if !IsVaultString(v) {
			return v, nil
		}
		vault, err := ParseVaultString(v)
		if err != nil {
			return nil, err
		}
		plaintext, err := vault.Decrypt(password)
		if err != nil {
			return nil, err
		}
		return plaintext, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			walked, err := DecryptVaultedValues(item, password)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = walked
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for idx, item := range v {
			walked, err := DecryptVaultedValues(item, password)
			if err != nil {
				return nil, err
			}
			out[idx] = walked
		}
		return out, nil
	default:
		return value, nil
	}
}

// DecryptVault replaces vault payloads in the play's vars and in every
// task's vars with their plaintext, so dispatch never carries ciphertext
// to workers.
func (p *Play) DecryptVault(password string) error {
	if p.Vars != nil {
		walked, err := DecryptVaultedValues(p.Vars, password)
		if err != nil {
			return fmt.Errorf("play %q vars: %w", p.Name, err)
		}
		p.Vars = walked.(map[string]interface{})
	}
	for _, task := range p.AllTasks() {
		if task.Vars == nil {
			continue
		}
		walked, err := DecryptVaultedValues(task.Vars, password)
		if err != nil {
			return fmt.Errorf("task %q vars: %w", task.Name, err)
		}
		task.Vars = walked.(map[string]interface{})
	}
	return nil
}
